// Package client is the Go client for the livechat gateway.
//
// Conn speaks the WebSocket frame protocol and correlates acknowledgements
// with requests. Store keeps a local projection of conversations and merges
// optimistic sends with what the server eventually confirms. Session ties the
// two together:
//
//	conn, err := client.Dial(ctx, "ws://localhost:8080/ws", token, logger)
//	if err != nil {
//	    return err
//	}
//	s := client.NewSession(conn, client.Hooks{}, logger)
//	go s.Run(ctx)
//	_ = s.Join(ctx, conversationID)
//	msg, err := s.Send(ctx, conversationID, "hello")
//
// A send appears in the store at once with a temp- id. The durable message
// replaces it when either the ack or the room echo arrives; the other copy
// is discarded. A rejected send is removed again and returned as failed.
package client
