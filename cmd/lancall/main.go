// lancall is the interactive call endpoint: it registers with the signaling
// hub, shows who is online, and places, answers, and ends calls from a small
// stdin command loop.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lanmesh/lancall/internal/call"
	"github.com/lanmesh/lancall/internal/chat"
	"github.com/lanmesh/lancall/internal/config"
	"github.com/lanmesh/lancall/internal/media"
	"github.com/lanmesh/lancall/internal/roster"
	"github.com/lanmesh/lancall/internal/signaling"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.Username == "" {
		fmt.Fprintln(os.Stderr, "a username is required (--username or LANCALL_USERNAME)")
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	capturer, err := media.NewDeviceCapturer()
	if err != nil {
		logger.Error("failed to initialize capture pipeline", "err", err)
		os.Exit(2)
	}
	api, err := media.NewAPI(capturer, cfg.LogLevel)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := signaling.Dial(ctx, cfg.SignalURL, cfg.Username, logger)
	if err != nil {
		logger.Error("failed to reach signaling hub", "url", cfg.SignalURL, "err", err)
		os.Exit(1)
	}
	defer ch.Close()

	store, err := chat.Open(cfg.DataDir)
	if err != nil {
		logger.Warn("chat history unavailable", "err", err)
		store = nil
	} else {
		defer store.Close()
	}

	reg := call.NewRegistry(api, cfg.PeerConnectionICEServers(), ch, logger)
	messenger := chat.NewMessenger(reg, store, logger)
	reg.OnChannelMessage(messenger.HandleData)

	ctrl := call.NewController(reg, ch, capturer, logger)
	defer ctrl.Close()

	ctrl.OnIncomingCall(func(ic call.IncomingCall) {
		fmt.Printf("incoming %s call from %s (accept | reject)\n", ic.Kind, ic.Peer)
	})
	ctrl.OnCallEnded(func(peer string) {
		fmt.Printf("call with %s ended\n", peer)
	})
	ctrl.OnRemoteTrack(func(rt call.RemoteTrack) {
		fmt.Printf("receiving %s from %s\n", rt.Track.Kind(), rt.Peer)
		go drainTrack(rt)
	})
	messenger.OnMessage(func(msg chat.Message) {
		fmt.Printf("[%s] %s\n", msg.Peer, msg.Body)
	})

	ros := roster.New(cfg.Username, logger)
	ros.OnChange(func(peers []string) {
		fmt.Printf("online: %s\n", formatPeers(peers))
	})

	disp := call.NewDispatcher(ctrl, logger)
	disp.OnPeerList(ros.Update)
	disp.Start(ch)
	defer disp.Stop()

	logger.Info("registered with signaling hub", "username", cfg.Username, "url", cfg.SignalURL)
	fmt.Println("type 'help' for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := runCommand(ctx, line, ctrl, ros, messenger); quit {
				return
			}
		}
	}
}

func runCommand(ctx context.Context, line string, ctrl *call.Controller, ros *roster.Roster, messenger *chat.Messenger) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "help":
		fmt.Print(`commands:
  peers                 list online peers
  call <peer> [video]   start an audio (or audio+video) call
  accept                accept the pending incoming call
  reject                reject the pending incoming call
  end                   hang up the current call
  msg <peer> <text>     send a text message over the active call
  history <peer>        show recent messages with a peer
  quit                  exit
`)

	case "peers":
		fmt.Printf("online: %s\n", formatPeers(ros.Peers()))

	case "call":
		if len(fields) < 2 {
			fmt.Println("usage: call <peer> [video]")
			return false
		}
		kind := media.KindAudio
		if len(fields) > 2 && fields[2] == "video" {
			kind = media.KindAudioVideo
		}
		if err := ctrl.StartCall(ctx, fields[1], kind); err != nil {
			fmt.Printf("call failed: %v\n", err)
			return false
		}
		fmt.Printf("calling %s...\n", fields[1])

	case "accept":
		if err := ctrl.AcceptCall(ctx); err != nil {
			fmt.Printf("accept failed: %v\n", err)
		}

	case "reject":
		if err := ctrl.RejectCall(); err != nil {
			fmt.Printf("reject failed: %v\n", err)
		}

	case "end":
		_, peer := ctrl.Snapshot()
		if peer == "" {
			fmt.Println("no call to end")
			return false
		}
		if err := ctrl.EndCall(peer); err != nil {
			fmt.Printf("end failed: %v\n", err)
		}

	case "msg":
		if len(fields) < 3 {
			fmt.Println("usage: msg <peer> <text>")
			return false
		}
		body := strings.Join(fields[2:], " ")
		if _, err := messenger.Send(fields[1], body); err != nil {
			fmt.Printf("send failed: %v\n", err)
		}

	case "history":
		if len(fields) < 2 {
			fmt.Println("usage: history <peer>")
			return false
		}
		msgs, err := messenger.History(fields[1], 50)
		if err != nil {
			fmt.Printf("history failed: %v\n", err)
			return false
		}
		for _, msg := range msgs {
			who := msg.Peer
			if msg.Direction == chat.DirectionOut {
				who = "me"
			}
			fmt.Printf("%s [%s] %s\n", msg.SentAt.Local().Format("15:04:05"), who, msg.Body)
		}

	case "quit", "exit":
		return true

	default:
		fmt.Printf("unknown command %q (try 'help')\n", fields[0])
	}
	return false
}

// drainTrack keeps the remote track's RTP flowing. Playback is left to a
// future audio output pipeline; without a reader the track would stall.
func drainTrack(rt call.RemoteTrack) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := rt.Track.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("remote track closed", "peer", rt.Peer, "err", err)
			}
			return
		}
	}
}

func formatPeers(peers []string) string {
	if len(peers) == 0 {
		return "(nobody)"
	}
	return strings.Join(peers, ", ")
}
