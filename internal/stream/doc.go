// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the agent response stream into typed events.
//
// The invoke endpoint answers with a text/event-stream body in which every
// logical record is a line of the form
//
//	data: {"type":"response.output_text.delta","delta":"Hel"}
//
// and the stream is terminated by a "data: [DONE]" record or by the transport
// closing. Transport chunks do not line up with records, so the Decoder keeps
// a carry-over buffer for the trailing partial line.
//
// # Usage
//
//	for payload, err := range stream.Records(ctx, body) {
//	    if err != nil {
//	        return err
//	    }
//	    ev := stream.Parse(payload)
//	    ...
//	}
package stream
