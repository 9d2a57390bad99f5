// Package decoder implements the HTTP/1.1 response state machine used by pipefire
// connections.
//
// A [Decoder] reads from a byte stream and yields [Entity] values in the order
//
//	Status, Header*, HeaderEnd, Body*, End
//
// The body is framed either by Content-Length or by chunked transfer coding; the last
// framing header seen before HeaderEnd wins. Reads from the stream happen in whatever
// increments the transport delivers, so the decoder keeps its own buffer and only hands
// out bytes once a whole line or body piece is available:
//
//	d := decoder.New(conn)
//	for {
//		e, err := d.Next()
//		if err != nil {
//			return err
//		}
//		if e.Kind == decoder.KindEnd {
//			break
//		}
//	}
//	d.Reset()
//
// The buffer is continuous across messages. Reset never discards bytes of the next
// message that arrived in the same read as the end of the previous one.
//
// Errors are drawn from package errs: a zero-byte read before a status line is
// [errs.ErrConnectionClosed], which is how an idle keep-alive connection normally ends;
// every framing error leaves the stream unparseable and the connection must be dropped.
package decoder
