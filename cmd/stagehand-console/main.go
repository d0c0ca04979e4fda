// Command stagehand-console is a terminal operator console for a stagehand
// hub: it mirrors the hub state through a reconciler and turns typed commands
// into mutations, with offline queueing, undo/redo, and scene staging.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagehand-live/stagehand/internal/console"
	"github.com/stagehand-live/stagehand/internal/scene"
	"github.com/stagehand-live/stagehand/internal/timer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	setupLogging()

	hubURL := getEnv("HUB_URL", "ws://localhost:8080/ws")

	client := console.NewWSClient(hubURL)
	rec := console.NewReconciler(client, timer.DefaultPolicy(), clockwork.NewRealClock())
	client.Attach(rec)

	rec.OnMutationFailed = func(requestID string, reason error) {
		log.Warn().Str("request_id", requestID).Err(reason).Msg("edit rejected, local view rolled back")
	}
	rec.OnAdvisory = func(originID string, active bool) {
		if active {
			log.Info().Str("operator", originID).Msg("another operator is staging a scene")
		} else {
			log.Info().Str("operator", originID).Msg("other operator finished staging")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)
	go rec.Run(ctx)

	log.Info().Str("hub", hubURL).Msg("console started, type 'help' for commands")
	repl(rec)
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func repl(rec *console.Reconciler) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		if err := dispatch(rec, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func dispatch(rec *console.Reconciler, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		printHelp()
	case "status":
		printStatus(rec)

	case "start":
		return rec.MutateTimer(timer.KeySegment, timer.Patch{Running: boolp(true)})
	case "stop":
		return rec.MutateTimer(timer.KeySegment, timer.Patch{Running: boolp(false)})
	case "duration":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return rec.MutateTimer(timer.KeySegment, timer.Patch{Duration: &n})
	case "remaining":
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return rec.MutateTimer(timer.KeySegment, timer.Patch{Remaining: &n})
	case "target":
		if len(args) != 1 {
			return fmt.Errorf("usage: target HH:MM")
		}
		return rec.MutateTimer(timer.KeyTarget, timer.Patch{TargetTime: &args[0]})
	case "elapsed":
		if len(args) != 1 || (args[0] != "start" && args[0] != "stop") {
			return fmt.Errorf("usage: elapsed start|stop")
		}
		return rec.MutateTimer(timer.KeyElapsed, timer.Patch{Running: boolp(args[0] == "start")})

	case "overlay":
		text := strings.Join(args, " ")
		return rec.MutateScene(scene.Patch{OverlayText: &text})
	case "background":
		if len(args) != 1 {
			return fmt.Errorf("usage: background PATH|clear")
		}
		p := scene.Patch{Background: scene.NullableString{Set: true}}
		if args[0] != "clear" {
			p.Background.Value = &args[0]
		}
		return rec.MutateScene(p)
	case "timer":
		on, err := onOffArg(args)
		if err != nil {
			return err
		}
		return rec.MutateScene(scene.Patch{TimerVisible: &on})
	case "chroma":
		on, err := onOffArg(args)
		if err != nil {
			return err
		}
		return rec.MutateScene(scene.Patch{ChromaKey: &on})
	case "theme":
		if len(args) != 1 {
			return fmt.Errorf("usage: theme NAME")
		}
		return rec.MutateScene(scene.Patch{Theme: &args[0]})

	case "preview":
		rec.EnterPreview()
		fmt.Println("previewing: scene edits are staged until golive")
	case "golive":
		return rec.GoLive()
	case "discard":
		rec.ExitPreview()
	case "undo":
		return rec.Undo()
	case "redo":
		return rec.Redo()
	case "reset":
		return rec.ResetAll()

	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return nil
}

func printStatus(rec *console.Reconciler) {
	timers := rec.Timers()
	sc := rec.Scene()
	link := "OFFLINE"
	if rec.Connected() {
		link = "online"
	}

	fmt.Printf("link: %s  queued: %d\n", link, rec.QueueDepth())
	fmt.Printf("segment: %s / %s  running=%v\n",
		hms(timers.Segment.Remaining), hms(timers.Segment.Duration), timers.Segment.Running)
	fmt.Printf("target:  %s in %s\n", timers.Target.TargetTime, hms(timers.Target.Remaining))
	fmt.Printf("elapsed: %s  running=%v\n", hms(timers.Elapsed.Seconds), timers.Elapsed.Running)

	bg := "(none)"
	if sc.Background != nil {
		bg = *sc.Background
	}
	fmt.Printf("scene: overlay=%q background=%s timer=%v chroma=%v theme=%s\n",
		sc.OverlayText, bg, sc.TimerVisible, sc.ChromaKey, sc.Theme)
	if staged, ok := rec.Staged(); ok {
		fmt.Printf("staged: overlay=%q timer=%v chroma=%v theme=%s\n",
			staged.OverlayText, staged.TimerVisible, staged.ChromaKey, staged.Theme)
	}
	undo, redo := rec.LedgerDepths()
	fmt.Printf("undo: %d  redo: %d\n", undo, redo)
}

func printHelp() {
	fmt.Print(`timers:
  start | stop            run or pause the segment countdown
  duration N              set segment duration (seconds), resets progress
  remaining N             set segment remaining (seconds)
  target HH:MM            set the target wall-clock time
  elapsed start|stop      run or pause the session up-counter
scene:
  overlay TEXT            set the overlay text
  background PATH|clear   set or clear the background media
  timer on|off            toggle timer visibility
  chroma on|off           toggle chroma key
  theme NAME              set the theme
workflow:
  preview | golive | discard
  undo | redo | reset
  status | help | quit
`)
}

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one numeric argument")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", args[0])
	}
	return n, nil
}

func onOffArg(args []string) (bool, error) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return false, fmt.Errorf("expected on|off")
	}
	return args[0] == "on", nil
}

func boolp(b bool) *bool { return &b }

func hms(seconds int) string {
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, seconds/3600, (seconds%3600)/60, seconds%60)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
