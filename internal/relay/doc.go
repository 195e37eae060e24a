// Package relay routes chat traffic between agents and users.
//
// Router handles sendMessage: it validates, persists, then hands the message
// to the receiver's live connection if the registry has one. Assembler builds
// the inbox snapshot an agent receives on connect. TypingRelay forwards
// typing signals without persisting them.
//
// Failures are *Error values classified by the Err* sentinels; ClientMessage
// gives the text for the error event.
package relay
