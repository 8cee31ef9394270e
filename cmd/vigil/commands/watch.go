package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/logger"
	"github.com/teranos/vigil/server"
	"github.com/teranos/vigil/sym"
)

// JobWatchCmd streams live job progress from the daemon
var JobWatchCmd = &cobra.Command{
	Use:   "watch [job-id]",
	Short: "Stream live job progress",
	Long: `Subscribe to the daemon's WebSocket feed and print job events as they
happen. With a job id, follows only that job and exits when it reaches a
terminal state; the command fails when the job does.

Without arguments, streams all job activity until interrupted.

Examples:
  vigil job watch             # All activity, Ctrl+C to stop
  vigil job watch run-42      # Follow one job to completion
  vigil job watch -vvv        # All activity plus raw frames`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := ""
		if len(args) > 0 {
			jobID = args[0]
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		return runJobWatch(jobID, verbosity)
	},
}

func init() {
	JobCmd.AddCommand(JobWatchCmd)
}

// runJobWatch subscribes to the daemon feed and renders frames until done
func runJobWatch(jobID string, verbosity int) error {
	// "http://host" -> "ws://host", "https://host" -> "wss://host"
	wsURL := strings.Replace(daemonBaseURL(), "http", "ws", 1) + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return daemonUnreachable(err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan error, 1)
	go func() {
		done <- watchLoop(conn, jobID, verbosity)
	}()

	select {
	case err := <-done:
		return err
	case <-interrupt:
		// Best-effort close handshake; the daemon unregisters on read error
		// regardless
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return nil
	}
}

// watchLoop reads frames off the feed. In follow mode (jobID set) a spinner
// tracks the one job; otherwise every event prints as a line.
func watchLoop(conn *websocket.Conn, jobID string, verbosity int) error {
	var spinner *pterm.SpinnerPrinter
	if jobID != "" {
		spinner, _ = pterm.DefaultSpinner.Start(fmt.Sprintf("Waiting for %s activity...", jobID))
	}

	rawFrames := logger.ShouldOutput(verbosity, logger.OutputWSFrames)

	var lastPolling *bool
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if spinner != nil {
				spinner.Stop()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "daemon connection lost")
		}

		if rawFrames && spinner == nil {
			fmt.Println(pterm.Gray("frame: " + string(data)))
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case "version":
			var hello struct {
				Version string `json:"version"`
				Commit  string `json:"commit"`
			}
			if err := json.Unmarshal(data, &hello); err == nil && spinner == nil {
				pterm.Info.Printf("Connected to vigil daemon %s (%s)\n", hello.Version, hello.Commit)
			}

		case "daemon_status":
			if spinner != nil {
				continue
			}
			var status server.DaemonStatusMessage
			if err := json.Unmarshal(data, &status); err != nil {
				continue
			}
			// Replay frame seeds the state silently; only transitions print
			if lastPolling != nil && *lastPolling != status.Polling {
				if status.Polling {
					pterm.Info.Printf("%s Daemon polling %s\n", sym.Vigil, status.ActiveJobID)
				} else {
					pterm.Info.Printf("%s Daemon idle\n", sym.Vigil)
				}
			}
			polling := status.Polling
			lastPolling = &polling

		case "job_update", "job_completed", "job_errored":
			var event server.JobEventMessage
			if err := json.Unmarshal(data, &event); err != nil || event.Job == nil {
				continue
			}
			if jobID != "" && event.Job.JobID != jobID {
				continue
			}
			if finished, err := renderJobEvent(spinner, envelope.Type, &event, jobID != ""); finished {
				return err
			}

		case "error":
			var msg struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(data, &msg); err == nil {
				pterm.Error.Printf("Daemon error: %s\n", msg.Error)
			}
		}
	}
}

// renderJobEvent prints one job frame. In follow mode the terminal frame
// ends the watch; a failed job fails the command.
func renderJobEvent(spinner *pterm.SpinnerPrinter, frameType string, event *server.JobEventMessage, follow bool) (bool, error) {
	job := event.Job
	stamp := time.Unix(event.Timestamp, 0).Format("15:04:05")

	line := job.Message
	if job.Progress != nil {
		line = job.Progress.String()
	}

	switch frameType {
	case "job_completed":
		note := ""
		if job.Forced {
			note = " (inferred from inactivity)"
		}
		text := fmt.Sprintf("%s completed in %s%s", job.JobID, job.Elapsed().Round(time.Second), note)
		if spinner != nil {
			spinner.Success(text)
		} else {
			pterm.Success.Printf("%s %s\n", pterm.Gray(stamp), text)
		}
		return follow, nil

	case "job_errored":
		text := fmt.Sprintf("%s failed: %s", job.JobID, job.Message)
		if spinner != nil {
			spinner.Fail(text)
		} else {
			pterm.Error.Printf("%s %s\n", pterm.Gray(stamp), text)
		}
		if follow {
			return true, errors.Newf("job %s failed: %s", job.JobID, job.Message)
		}
		return false, nil

	default:
		if spinner != nil {
			spinner.UpdateText(fmt.Sprintf("%s %s", job.JobID, line))
		} else {
			pterm.Printf("%s %s %-9s %s\n", pterm.Gray(stamp), job.JobID, job.Status, line)
		}
		return false, nil
	}
}
