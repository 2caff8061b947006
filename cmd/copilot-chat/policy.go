package main

import (
	"github.com/spf13/pflag"

	"github.com/zhubert/copilot-chat/copilot"
)

// policyValue is the --model-policy flag. An unset flag leaves the config
// value in effect.
type policyValue struct {
	mode copilot.FallbackMode
	set  bool
}

var _ pflag.Value = (*policyValue)(nil)

func newPolicyValue() *policyValue {
	return &policyValue{}
}

func (p *policyValue) String() string {
	return string(p.mode)
}

func (p *policyValue) Set(s string) error {
	mode, err := copilot.ParseFallbackMode(s)
	if err != nil {
		return err
	}
	p.mode = mode
	p.set = true
	return nil
}

func (p *policyValue) Type() string {
	return "policy"
}
