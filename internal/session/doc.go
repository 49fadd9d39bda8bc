// Package session authenticates websocket connections and keeps a namespace's
// presence registry in step with them.
//
// A connection moves from Connecting to Authenticated to Closed. The bearer
// credential is taken from the handshake (Authorization header or the token
// query parameter). A missing credential, a token that fails verification,
// and a token for an unknown user all close the socket with code 1008 and no
// events, so a client cannot tell them apart.
//
// On join the new identity is announced to the other connections with
// user_connected and the roster is sent to the new connection alone with
// online_users. On leave the remaining connections get user_disconnected and
// any OnLeave hooks run.
package session
