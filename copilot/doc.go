// Package copilot manages a long-lived copilot subprocess and the chat
// sessions multiplexed over it.
//
// # Overview
//
// The subprocess speaks newline-delimited JSON over stdin/stdout. A Client
// launches it, reads its output on one goroutine, and routes each decoded
// Event to the Session it belongs to. Each Session delivers its events to
// listeners on its own dispatch goroutine, so one slow listener never holds
// up the read loop or another session.
//
// # Client
//
//	client := copilot.NewClient(copilot.ClientOptions{})
//	if err := client.Start(ctx); err != nil {
//	    return err // *SpawnError when the executable is missing
//	}
//	defer func() {
//	    if err := client.Stop(ctx); err != nil {
//	        client.ForceStop()
//	    }
//	}()
//
//	models, err := client.ListModels(ctx)
//
// Stop is graceful and bounded by the grace period; when it returns a
// *ShutdownError the caller falls back to ForceStop, which always succeeds.
//
// # Sessions
//
//	session, err := client.CreateSession(ctx, copilot.SessionConfig{
//	    Model:               "gpt-5",
//	    OnPermissionRequest: copilot.ApproveAll,
//	})
//	unsubscribe := session.On(func(ev copilot.Event) {
//	    if ev.Type == copilot.EventToolExecutionStart {
//	        fmt.Println("tool:", ev.Data.ToolName)
//	    }
//	})
//	defer unsubscribe()
//
//	reply, err := session.SendAndWait(ctx, copilot.MessageOptions{Prompt: "hello"}, time.Minute)
//
// A turn completes on session.idle. SendAndWait resolves with the last
// assistant.message of the turn, or with errors wrapping ErrTimeout when the
// bound elapses. Every request is resolved exactly once and removed from the
// session's pending table either way.
//
// # Permissions
//
// A permission.request event blocks dispatch for its session until the
// session's PermissionHandler decides and the decision has been written back.
// Missing handlers, handler errors, and handlers that exceed PermissionTimeout
// all deny.
//
// # Errors
//
// Malformed frames never stop the read loop. They are surfaced as
// EventDecodeError events to the listeners registered with Client.OnError.
package copilot
