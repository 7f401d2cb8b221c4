// meetctl is a thin diagnostic and control CLI for the durablemeet
// recorder daemon. It speaks the same websocket protocol the GUI shell
// uses, one request-response round trip per invocation.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"durablemeet/internal/control"
)

func main() {
	addr := pflag.StringP("addr", "a", "localhost:8090", "Daemon control surface host:port")
	saveFolder := pflag.StringP("save-folder", "f", "", "Save folder override for the diagnose command")
	meetingID := pflag.StringP("meeting", "m", "", "Meeting ID for correct/merge commands")
	fromLabel := pflag.String("from", "", "Source speaker label for correct/merge commands")
	toLabel := pflag.String("to", "", "Destination speaker label for the merge command")
	name := pflag.StringP("name", "n", "", "Speaker name for the correct command")
	mic := pflag.String("mic", "", "Mic device name for the start command")
	system := pflag.String("system", "", "System/loopback device name for the start command")
	autoSave := pflag.Bool("auto-save", true, "auto_save request hint for the start command (the daemon still traces its own preference)")
	help := pflag.BoolP("help", "h", false, "Display help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: meetctl [flags] <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  devices    list capture devices\n")
		fmt.Fprintf(os.Stderr, "  start      start recording (uses --mic/--system, or defaults if unset)\n")
		fmt.Fprintf(os.Stderr, "  pause      pause the active recording\n")
		fmt.Fprintf(os.Stderr, "  resume     resume a paused recording\n")
		fmt.Fprintf(os.Stderr, "  stop       stop and save the active recording\n")
		fmt.Fprintf(os.Stderr, "  save-only  finalize without stopping capture\n")
		fmt.Fprintf(os.Stderr, "  diagnose   run the degraded-save diagnostic checklist\n")
		fmt.Fprintf(os.Stderr, "  correct    manually set a speaker's name (--meeting --from --name)\n")
		fmt.Fprintf(os.Stderr, "  merge      merge one speaker label into another (--meeting --from --to)\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || pflag.NArg() != 1 {
		pflag.Usage()
		if *help {
			os.Exit(0)
		}
		os.Exit(2)
	}

	req, err := buildRequest(pflag.Arg(0), *mic, *system, *autoSave, *saveFolder, *meetingID, *fromLabel, *toLabel, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	resp, err := roundTrip(*addr, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func buildRequest(cmd, mic, system string, autoSave bool, saveFolder, meetingID, fromLabel, toLabel, name string) (control.Message, error) {
	switch cmd {
	case "devices":
		return control.Message{Type: "get_devices"}, nil
	case "start":
		if mic == "" && system == "" {
			return control.Message{Type: "start_with_defaults", AutoSave: autoSave}, nil
		}
		return control.Message{Type: "start", MicDevice: mic, SystemDevice: system, AutoSave: autoSave}, nil
	case "pause":
		return control.Message{Type: "pause"}, nil
	case "resume":
		return control.Message{Type: "resume"}, nil
	case "stop":
		return control.Message{Type: "stop"}, nil
	case "save-only":
		return control.Message{Type: "save_only"}, nil
	case "diagnose":
		return control.Message{Type: "diagnose", SaveFolder: saveFolder}, nil
	case "correct":
		if meetingID == "" || fromLabel == "" || name == "" {
			return control.Message{}, fmt.Errorf("correct requires --meeting, --from and --name")
		}
		return control.Message{Type: "manual_correct", MeetingID: meetingID, FromLabel: fromLabel, SpeakerName: name}, nil
	case "merge":
		if meetingID == "" || fromLabel == "" || toLabel == "" {
			return control.Message{}, fmt.Errorf("merge requires --meeting, --from and --to")
		}
		return control.Message{Type: "merge_labels", MeetingID: meetingID, FromLabel: fromLabel, ToLabel: toLabel}, nil
	default:
		return control.Message{}, fmt.Errorf("unknown command %q", cmd)
	}
}

// roundTrip opens a short-lived websocket connection, sends one request,
// and waits for the first response — the event feed's general shape, used
// here for a single request/response instead of a long-lived session.
func roundTrip(addr string, req control.Message) (control.Message, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return control.Message{}, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(req); err != nil {
		return control.Message{}, fmt.Errorf("send request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	var resp control.Message
	if err := conn.ReadJSON(&resp); err != nil {
		return control.Message{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

func printResponse(resp control.Message) {
	if resp.Type == "error" {
		fmt.Fprintln(os.Stderr, "error:", resp.Error)
		os.Exit(1)
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stdout, "%+v\n", resp)
		return
	}
	fmt.Println(string(out))
}
