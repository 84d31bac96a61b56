package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/Dial/internal/adapters/rtc"
	"github.com/dkeye/Dial/internal/app/billing"
	"github.com/dkeye/Dial/internal/app/chat"
	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errUsage = errors.New("usage: call <id> | accept <id> | reject <id> | end | chat <text> | file <path> | pending | status [online|offline|busy] | pros")

// directory is the slice of the REST client the agent uses beyond the
// orchestrator.
type directory interface {
	SetStatus(ctx context.Context, p domain.Presence) error
	Professionals(ctx context.Context) ([]domain.User, error)
}

// agent drives one orchestrator from line commands.
type agent struct {
	self    domain.UserID
	orch    *orch.Orchestrator
	dir     directory
	streams *rtc.StreamManager
	saveDir string

	mu  sync.Mutex
	out io.Writer

	countersMu sync.Mutex
	counters   map[string]*rtc.Counter
}

func newAgent(self domain.UserID, dir directory, streams *rtc.StreamManager, saveDir string, out io.Writer) *agent {
	return &agent{
		self:     self,
		dir:      dir,
		streams:  streams,
		saveDir:  saveDir,
		out:      out,
		counters: make(map[string]*rtc.Counter),
	}
}

func (a *agent) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format+"\n", args...)
}

func (a *agent) hooks() orch.Hooks {
	return orch.Hooks{
		OnPhase: func(c domain.Call) {
			a.printf("[%s] %s with %s", c.ID, c.Phase, c.Remote)
			if c.Phase.Terminal() {
				a.stopStreams()
			}
		},
		OnIncoming: func(c domain.Call, caller domain.User) {
			a.printf("incoming call %s from %s (%s)", c.ID, caller.ID, caller.Username)
		},
		OnChat: a.onChat,
		OnRemoteTrack: func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			a.startStream(ctx, track)
		},
		OnCallEnded: func(r billing.Receipt) {
			a.printf("[%s] call ended: %.2f min, %d tokens", r.CallID, r.Duration, r.Cost)
		},
		OnError: func(err error) {
			a.printf("error: %v", err)
		},
	}
}

func (a *agent) onChat(e domain.ChatEntry) {
	if e.File == nil {
		a.printf("%s: %s", e.From, e.Message)
		return
	}
	a.printf("%s sent %s (%s, %d bytes)", e.From, e.File.Name, e.File.Type, e.File.Size)
	if a.saveDir == "" || e.From == a.self {
		return
	}
	data, err := chat.DecodeAttachment(*e.File)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad attachment")
		return
	}
	path := filepath.Join(a.saveDir, filepath.Base(e.File.Name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("path", path).Msg("save attachment")
		return
	}
	a.printf("saved %s", path)
}

func (a *agent) startStream(ctx context.Context, src rtc.Source) {
	a.streams.Start(ctx, src)
	c := &rtc.Counter{}
	a.streams.Attach(src.ID(), "stats", c)
	a.countersMu.Lock()
	a.counters[src.ID()] = c
	a.countersMu.Unlock()
}

func (a *agent) stopStreams() {
	a.streams.StopAll()
	a.countersMu.Lock()
	defer a.countersMu.Unlock()
	for id, c := range a.counters {
		log.Info().Str("module", "client").Str("track", id).Int64("packets", c.Packets()).Int64("bytes", c.Bytes()).Msg("remote track stats")
	}
	clear(a.counters)
}

// readCommands runs until ctx ends. EOF on r leaves the agent running.
func (a *agent) readCommands(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			if err := a.exec(ctx, line); err != nil {
				a.printf("error: %v", err)
			}
		}
	}
}

func (a *agent) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	needArg := func() error {
		if arg == "" {
			return errUsage
		}
		return nil
	}

	switch cmd {
	case "":
		return nil
	case "call":
		if err := needArg(); err != nil {
			return err
		}
		id, err := a.orch.Call(ctx, domain.UserID(arg))
		if err != nil {
			return err
		}
		a.printf("calling %s: %s", arg, id)
	case "accept":
		if err := needArg(); err != nil {
			return err
		}
		return a.orch.Accept(ctx, domain.CallID(arg))
	case "reject":
		if err := needArg(); err != nil {
			return err
		}
		return a.orch.Reject(ctx, domain.CallID(arg))
	case "end":
		return a.orch.End(ctx)
	case "chat":
		return a.orch.SendChat(ctx, arg)
	case "file":
		if err := needArg(); err != nil {
			return err
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		return a.orch.SendFile(ctx, arg, data)
	case "pending":
		list, err := a.orch.Pending(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			a.printf("no pending calls")
		}
		for _, in := range list {
			a.printf("pending %s from %s", in.Call.ID, in.Caller.ID)
		}
	case "status":
		if arg != "" {
			p, err := domain.ParsePresence(arg)
			if err != nil {
				return err
			}
			return a.dir.SetStatus(ctx, p)
		}
		c, ok, err := a.orch.Snapshot(ctx)
		if err != nil {
			return err
		}
		if !ok {
			a.printf("idle")
			return nil
		}
		a.printf("[%s] %s with %s", c.ID, c.Phase, c.Remote)
	case "pros":
		list, err := a.dir.Professionals(ctx)
		if err != nil {
			return err
		}
		for _, u := range list {
			a.printf("%s %s %s %.2f/min", u.ID, u.Username, u.Status, u.PricePerMinute)
		}
	default:
		return errUsage
	}
	return nil
}
