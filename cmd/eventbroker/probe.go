package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/vango-dev/eventbroker/pkg/protocol"
)

func probeCmd() *cobra.Command {
	var (
		addr     string
		function string
		id       string
		payload  string
		binary   bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send one message to a running broker and print the reply",
		Long: `Open a connection to a running broker, send one message and print
the first message that comes back.

With --function the probe calls a named function. Otherwise it opens an
event connection and sends an event for --id.

Examples:
  eventbroker probe --function=echo --data='{"hello":"world"}'
  eventbroker probe --function=stats
  eventbroker probe --id=button-1 --data='{"userId":"u1"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := protocol.Message{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &msg); err != nil {
					return fmt.Errorf("--data: %w", err)
				}
			}

			path := protocol.PrefixWS + id
			if function != "" {
				path = protocol.PrefixWSFunctions + function
			} else {
				if id == "" {
					id = uuid.NewString()
					path = protocol.PrefixWS + id
				}
				msg[protocol.FieldID] = id
			}

			reply, err := probe(url.URL{Scheme: "ws", Host: addr, Path: path}, msg, binary, timeout)
			if err != nil {
				return err
			}

			success("reply from %s", path)
			out, _ := json.MarshalIndent(reply, "  ", "  ")
			info("%s", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:9898", "Broker address")
	cmd.Flags().StringVarP(&function, "function", "f", "", "Function to call")
	cmd.Flags().StringVar(&id, "id", "", "Event id (default: random)")
	cmd.Flags().StringVarP(&payload, "data", "d", "", "JSON object to send")
	cmd.Flags().BoolVarP(&binary, "binary", "b", false, "Send MessagePack instead of JSON")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "How long to wait for a reply")

	return cmd
}

func probe(u url.URL, msg protocol.Message, binary bool, timeout time.Duration) (protocol.Message, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	enc := protocol.EncodingText
	wsType := websocket.TextMessage
	if binary {
		enc = protocol.EncodingBinary
		wsType = websocket.BinaryMessage
	}
	frame, err := protocol.Encode(msg, enc)
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteMessage(wsType, frame.Payload); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	in := protocol.Frame{Encoding: protocol.EncodingText, Payload: data}
	if mt == websocket.BinaryMessage {
		in.Encoding = protocol.EncodingBinary
	}
	return protocol.Decode(in)
}
