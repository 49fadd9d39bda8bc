// Package chat relays chat messages, history, read receipts, and typing
// indicators between the connections of the chat namespace.
//
// Inbound frames are decoded by ParseCommand into one of SendMessage,
// GetHistory, MessageDelivered, or Typing and run by a Relay. Messages are
// persisted before anything is delivered; if the store fails the sender gets
// an error event and no one else sees the message. Direct messages to an
// offline user are stored and echoed to the sender, and can be fetched later
// with get_chat_history. Group messages go to every connection registered in
// the namespace.
package chat
