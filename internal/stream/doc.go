// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream folds provider streaming events into a single assistant
// message.
//
// Two wire protocols are understood. The responses family emits namespaced
// events ("response.output_text.delta", "response.completed", ...). The chunk
// family emits chat-completion chunks with a delta, a finish reason and an
// optional usage block. Decode classifies raw JSON into the closed Event sum
// type; Step folds one event into a State and returns the notifications it
// produced. Parser wraps Step with callbacks for callers that want a mutable
// handle.
//
// # Usage
//
//	p := stream.NewParser(stream.Callbacks{
//	    OnMessageUpdate:   func(m model.Message) { render(m) },
//	    OnMessageComplete: func(m model.Message) { save(m) },
//	})
//	r := stream.NewSSEReader(resp.Body)
//	for {
//	    _, data, err := r.ReadEvent()
//	    if err != nil {
//	        break
//	    }
//	    if ev, err := stream.Decode(data); err == nil {
//	        p.Handle(ev)
//	    }
//	}
//	p.Finish()
package stream
