// Package types documents the realtime protocol. The Go shapes live in
// internal/types.
package types

// Client -> Server (websocket, /ws?session=<id>&participant=<id>&lang=<tag>)
// Vote:
//   duel_index: number
//   item_id: string
//
// Continue:
//   duel_index: number   // the resolved duel being acknowledged
//
// TieContinue:
//   duel_index: number   // only when next.tie_break is set
//
// Sync: {}               // re-read the session from the store

// Server -> Client (websocket messages; SSE uses the event type as `event:`
// and the version as `id:`)
// snapshot | vote_tally | duel_changed | ack | tie_ack | participant_excluded
// | session_finished | session_cancelled:
//   type: string
//   version: number      // keep the highest, ignore older
//   snapshot: Snapshot   // absent on session_cancelled
//   payload: object      // e.g. { count, needed } on ack/tie_ack
//
// Result (reply to a Vote/Continue/TieContinue on the same socket):
//   version: number
//   snapshot: Snapshot
//   payload: VoteResult | AckResult
//
// Error:
//   error: { code: string, message: string, idempotent: boolean, metadata: object }

// Snapshot:
//   session_id, room_id: string
//   status: "in_progress" | "finished"
//   version: number
//   current_round, total_rounds: number
//   current_duel_index: number
//   current_duel: { index, round, match, item1, item2 }
//   tally: [{ item_id, votes }]  // most votes first
//   votes_cast, votes_needed: number
//   voting_closed: boolean
//   tie_break: { duel_index, item1, item2, votes, coin, winner }  // optional
//   next: { duel_index, round_complete, tie_break, winner }  // staged, not yet visible
//   ack_kind: "normal" | "tie"
//   acks_count, acks_needed: number
//   participants: string[]
//   results: { [duel_index]: item_id }
//   champion: Item       // once finished
//   dropped: string[]    // items left out of an odd bracket
//   my_vote, my_ack      // only on GET /sessions/{id}
