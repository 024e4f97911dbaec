// Command chatcli talks to a running server: an interactive WebSocket
// session, or a one-shot voice turn over HTTP.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"persona-chat/backend/internal/chat"
	"persona-chat/backend/internal/ws"

	"github.com/gorilla/websocket"
)

type options struct {
	server    string
	userID    uint
	personaID uint
	sessionID string
	token     string
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Server base URL")
	user := flag.Uint("user", 1, "User id to join as")
	persona := flag.Uint("persona", 1, "Persona id to talk to")
	session := flag.String("session", "", "Session id (defaults to the connection id)")
	token := flag.String("token", "", "JWT for servers that require WebSocket auth")
	voiceFile := flag.String("voice", "", "Send this recording as one voice turn over HTTP and exit")
	flag.Parse()

	opts := options{
		server:    strings.TrimRight(*server, "/"),
		userID:    *user,
		personaID: *persona,
		sessionID: *session,
		token:     *token,
	}

	var err error
	if *voiceFile != "" {
		err = sendVoice(opts, *voiceFile)
	} else {
		err = interactive(opts)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func sendVoice(opts options, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("error creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("error copying file: %w", err)
	}

	session := opts.sessionID
	if session == "" {
		session = fmt.Sprintf("cli-%d", time.Now().Unix())
	}
	_ = writer.WriteField("userId", strconv.FormatUint(uint64(opts.userID), 10))
	_ = writer.WriteField("personaId", strconv.FormatUint(uint64(opts.personaID), 10))
	_ = writer.WriteField("sessionId", session)
	if err := writer.Close(); err != nil {
		return fmt.Errorf("error closing writer: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, opts.server+"/api/v1/chat/voice", body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	var turn chat.TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		return fmt.Errorf("error decoding response (status %d): %w", resp.StatusCode, err)
	}
	printTurn(turn)
	return nil
}

func wsURL(opts options) (string, error) {
	u, err := url.Parse(opts.server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	if opts.token != "" {
		u.RawQuery = url.Values{"token": {opts.token}}.Encode()
	}
	return u.String(), nil
}

func interactive(opts options) error {
	target, err := wsURL(opts)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return fmt.Errorf("error connecting to WebSocket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": ws.TypeJoin, "userId": opts.userID}); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env ws.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					fmt.Fprintln(os.Stderr, "read:", err)
				}
				return
			}
			printEnvelope(env)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	fmt.Println("Type a message and press enter. Ctrl+C to quit.")
	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return closeGracefully(conn, done)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			frame := map[string]any{
				"type":      ws.TypeChat,
				"personaId": opts.personaID,
				"message":   line,
			}
			if opts.sessionID != "" {
				frame["sessionId"] = opts.sessionID
			}
			if err := conn.WriteJSON(frame); err != nil {
				return err
			}
		case <-interrupt:
			return closeGracefully(conn, done)
		}
	}
}

func closeGracefully(conn *websocket.Conn, done <-chan struct{}) error {
	_ = conn.WriteJSON(map[string]any{"type": ws.TypeLeave})
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return err
}

func printEnvelope(env ws.Envelope) {
	switch env.Type {
	case ws.TypeChatResponse:
		if env.Response != nil && env.Response.Status != chat.StatusProcessing {
			printTurn(*env.Response)
		}
	case ws.TypeHeartbeatResponse, ws.TypeOnlineCount, ws.TypeTypingIndicator:
	default:
		fmt.Printf("[%s] %s\n", env.Type, env.Message)
	}
}

func printTurn(turn chat.TurnResponse) {
	if turn.Status == chat.StatusError {
		fmt.Printf("! %s: %s\n", turn.ErrorCode, turn.Error)
		return
	}
	if turn.Transcript != "" {
		fmt.Printf("  (you said) %s\n", turn.Transcript)
	}
	name := turn.PersonaName
	if name == "" {
		name = "persona"
	}
	fmt.Printf("%s: %s", name, turn.Message)
	if turn.Emotion != "" {
		fmt.Printf("  [%s]", strings.ToLower(turn.Emotion))
	}
	if turn.AudioURL != "" {
		fmt.Printf("  %s", turn.AudioURL)
	}
	fmt.Println()
}
