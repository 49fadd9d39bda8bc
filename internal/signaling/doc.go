// Package signaling brokers WebRTC call setup between two users of the
// signaling namespace. Media never passes through the server; only the
// offer, the answer, and trickled ICE candidates are relayed.
//
// A call attempt is created by call_user and moves from Ringing to Connected
// on accept_call. reject_call, end_call, an unanswered ring timeout, or either
// party leaving the namespace removes it. A user takes part in at most one
// attempt: a second call_user from the caller fails with "Call already in
// progress" and calling someone already in a call fails with "User is busy".
package signaling
