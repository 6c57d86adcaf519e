package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"go-counsel/internal/domain"
	"go-counsel/internal/protocol"
	"go-counsel/internal/user"
)

type options struct {
	wsURL          string
	secret         string
	consultationID string
	clientID       string
	lawyerID       string
	connections    int
	messages       int
	interval       time.Duration
}

type counters struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	var opts options
	flag.StringVar(&opts.wsURL, "ws", "ws://localhost:8080/ws", "websocket endpoint")
	flag.StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "secret used to mint test credentials")
	flag.StringVar(&opts.consultationID, "consultation", "", "consultation in TRIAL or ACTIVE status")
	flag.StringVar(&opts.clientID, "client", "", "client user id of the consultation")
	flag.StringVar(&opts.lawyerID, "lawyer", "", "lawyer user id of the consultation")
	flag.IntVar(&opts.connections, "conns", 50, "connections per participant")
	flag.IntVar(&opts.messages, "messages", 20, "messages per connection")
	flag.DurationVar(&opts.interval, "interval", 10*time.Millisecond, "pause between messages")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if opts.secret == "" || opts.consultationID == "" || opts.clientID == "" || opts.lawyerID == "" {
		logger.Error("secret, consultation, client and lawyer are required")
		os.Exit(2)
	}

	tokens := user.NewTokenService(opts.secret)
	participants := []domain.Actor{
		{UserID: opts.clientID, Name: "Load Client", Role: domain.RoleClient},
		{UserID: opts.lawyerID, Name: "Load Lawyer", Role: domain.RoleLawyer},
	}

	logger.Info("starting load test",
		"connections", opts.connections*len(participants),
		"messages_per_connection", opts.messages,
	)
	start := time.Now()

	var (
		wg    sync.WaitGroup
		stats counters
	)
	for _, actor := range participants {
		token, err := tokens.IssueToken(actor, time.Hour)
		if err != nil {
			logger.Error("mint token failed", "user_id", actor.UserID, "error", err.Error())
			os.Exit(1)
		}
		for i := 0; i < opts.connections; i++ {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				chatter(logger, opts, token, name, &stats)
			}(fmt.Sprintf("%s-%d", actor.Role, i))
		}
	}
	wg.Wait()

	logger.Info("load test complete",
		"elapsed", time.Since(start).String(),
		"sent", stats.sent.Load(),
		"received", stats.received.Load(),
		"failed", stats.failed.Load(),
	)
}

// chatter joins the consultation, sends its share of messages and counts deliveries.
func chatter(logger *slog.Logger, opts options, token, name string, stats *counters) {
	conn, _, err := websocket.DefaultDialer.Dial(opts.wsURL+"?token="+token, nil)
	if err != nil {
		stats.failed.Add(1)
		logger.Warn("connect failed", "conn", name, "error", err.Error())
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f protocol.Frame
			if json.Unmarshal(raw, &f) != nil {
				continue
			}
			switch f.Event {
			case protocol.EventNewMessage:
				stats.received.Add(1)
			case protocol.EventError, protocol.EventMessageBlocked:
				stats.failed.Add(1)
			}
		}
	}()

	if err := send(conn, protocol.JoinConsultation{ConsultationID: opts.consultationID}); err != nil {
		stats.failed.Add(1)
		return
	}
	for i := 0; i < opts.messages; i++ {
		err := send(conn, protocol.SendMessage{
			ConsultationID: opts.consultationID,
			Content:        fmt.Sprintf("load test message %d from %s", i, name),
			Type:           "TEXT",
		})
		if err != nil {
			stats.failed.Add(1)
			logger.Warn("send failed", "conn", name, "error", err.Error())
			break
		}
		stats.sent.Add(1)
		time.Sleep(opts.interval)
	}

	// let in-flight deliveries arrive before hanging up
	time.Sleep(2 * time.Second)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	<-done
}

func send(conn *websocket.Conn, ev protocol.Inbound) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.WriteJSON(protocol.Frame{Event: ev.Event(), Data: data})
}
