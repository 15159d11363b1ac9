package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	task "github.com/imkira/go-task"
	"github.com/spf13/cobra"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/shadefetch/shadefetch/internal/daemon"
	"github.com/shadefetch/shadefetch/internal/engine"
)

var fromFile string

func init() {
	addCmd.Flags().StringVar(&fromFile, "file", "", "path to a file with one URL per line, submitted as a batch")
}

var addCmd = &cobra.Command{
	Use:   "add [URL]",
	Short: "Submit one URL, or a batch from --file, for download",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		mode := parsePrivacyMode(privacyMode)

		if fromFile != "" {
			return addBatch(c, fromFile, mode)
		}
		if len(args) != 1 {
			return fmt.Errorf("fetchd: add requires a URL or --file")
		}
		id, err := c.Add(args[0], targetDir, filename, mode)
		if err != nil {
			return err
		}
		fmt.Println(id)
		watchUntilTerminal(c, []string{id})
		return nil
	},
}

// addBatch submits every URL in path as a serial go-task group, then
// watches every submitted id to a terminal state.
func addBatch(c *daemon.Client, path string, mode engine.PrivacyMode) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var mu sync.Mutex
	var ids []string

	group := task.NewSerialGroup()
	reader := bufio.NewReader(f)
	for {
		line, _, err := reader.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		url := string(line)
		if url == "" {
			continue
		}
		group.AddChild(task.NewTaskWithFunc(func(t task.Task, ctx task.Context) {
			id, err := c.Add(url, targetDir, "", mode)
			if err != nil {
				fmt.Fprintf(os.Stderr, "fetchd: add %s: %v\n", url, err)
				return
			}
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
		}))
	}
	group.Run(nil)

	watchUntilTerminal(c, ids)
	return nil
}

// watchUntilTerminal renders one progress bar per id and blocks until every
// id reaches a terminal status.
func watchUntilTerminal(c *daemon.Client, ids []string) {
	if len(ids) == 0 {
		return
	}
	bars := make(map[string]*pb.ProgressBar, len(ids))
	barList := make([]*pb.ProgressBar, 0, len(ids))
	for _, id := range ids {
		label := id
		if len(label) > 8 {
			label = label[:8]
		}
		bar := pb.New64(1).SetUnits(pb.U_BYTES).Prefix(label + " ")
		bars[id] = bar
		barList = append(barList, bar)
	}

	pool, err := pb.StartPool(barList...)
	if err != nil {
		return
	}
	defer pool.Stop()

	for {
		allTerminal := true
		for _, id := range ids {
			snap, err := c.Get(id)
			if err != nil {
				continue
			}
			bar := bars[id]
			if snap.Size > 0 {
				bar.Total = snap.Size
			}
			bar.Set64(snap.Downloaded)
			if !snap.Status.Terminal() {
				allTerminal = false
			} else {
				bar.Finish()
			}
		}
		if allTerminal {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

var pauseCmd = &cobra.Command{
	Use:   "pause [ID]",
	Short: "Pause a downloading transfer",
	Args:  cobra.ExactArgs(1),
	RunE:  simpleAction(func(c *daemon.Client, id string) error { return c.Pause(id) }),
}

var resumeCmd = &cobra.Command{
	Use:   "resume [ID]",
	Short: "Resume a paused transfer",
	Args:  cobra.ExactArgs(1),
	RunE:  simpleAction(func(c *daemon.Client, id string) error { return c.Resume(id) }),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [ID]",
	Short: "Cancel a transfer",
	Args:  cobra.ExactArgs(1),
	RunE:  simpleAction(func(c *daemon.Client, id string) error { return c.Cancel(id) }),
}

var rmCmd = &cobra.Command{
	Use:   "rm [ID]",
	Short: "Delete a transfer's record",
	Args:  cobra.ExactArgs(1),
	RunE:  simpleAction(func(c *daemon.Client, id string) error { return c.Delete(id) }),
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every completed/failed/canceled transfer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return client().ClearCompleted()
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all known transfers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snaps, err := client().ListAll()
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			fmt.Printf("%s\t%s\t%s\t%d/%d\n", snap.ID, snap.Status, snap.Filename, snap.Downloaded, snap.Size)
		}
		return nil
	},
}

func simpleAction(fn func(*daemon.Client, string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return fn(client(), args[0])
	}
}
