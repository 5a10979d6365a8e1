package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"repairedge/config"
	"repairedge/controller"
	"repairedge/engine"
	"repairedge/mover"
	"repairedge/store"
)

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated mover, optionally driving one task against it",
		Long: `Starts a UDP mover simulator. Point a real station at --listen to
exercise it against the simulator.

With --run-side, the command also runs an in-process station against the
simulated mover and an in-memory repair controller, seeds the given work items
and exits when the task completes or fails.`,
		RunE: runSimulate,
	}
	cmd.Flags().String("listen", "127.0.0.1:19206", "UDP address for the mover simulator")
	cmd.Flags().String("token", "00112233445566778899aabbccddeeff", "mover token (32 hex digits)")
	cmd.Flags().Duration("travel", 3*time.Second, "simulated mover travel time")
	cmd.Flags().Duration("work", time.Second, "simulated actuator work time")
	cmd.Flags().String("run-side", "", "run one task for this side in-process")
	cmd.Flags().String("items", "120,340", "comma separated item positions for --run-side")
	cmd.Flags().Uint32("handoff", 1003, "hand-off point for --run-side")
	cmd.Flags().Uint32("standby", 1001, "standby point for --run-side")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	token, _ := cmd.Flags().GetString("token")
	travel, _ := cmd.Flags().GetDuration("travel")
	side, _ := cmd.Flags().GetString("run-side")

	sim := mover.NewSimulator(mover.ParseToken(token), travel)
	if err := sim.Listen(listen); err != nil {
		return fmt.Errorf("mover simulator: %w", err)
	}
	defer sim.Close()
	log.Printf("mover simulator listening on %s (travel %s)", sim.Addr(), travel)

	if side == "" {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Printf("simulator stopping, %d commands received", len(sim.Commands()))
		return nil
	}
	return runSimulatedTask(cmd, sim, token, side)
}

func runSimulatedTask(cmd *cobra.Command, sim *mover.Simulator, token, side string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	work, _ := cmd.Flags().GetDuration("work")
	travel, _ := cmd.Flags().GetDuration("travel")
	handoff, _ := cmd.Flags().GetUint32("handoff")
	standby, _ := cmd.Flags().GetUint32("standby")
	itemsFlag, _ := cmd.Flags().GetString("items")
	items, err := parseItems(itemsFlag)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "repairedge-sim")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	cfg := config.Defaults()
	cfg.StationID = "simulator"
	cfg.DatabasePath = filepath.Join(dir, "sim.db")
	cfg.Mover.Address = sim.Addr()
	cfg.Mover.Token = token
	cfg.Mover.Timeout = 500 * time.Millisecond
	cfg.Mover.Points = map[string]config.SidePoints{side: {Handoff: handoff, Standby: standby}}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.ReplaceCachedItems(side, items); err != nil {
		return fmt.Errorf("seed items: %w", err)
	}

	addrs, err := controller.NewAddressMap(cfg.Controller.Addresses)
	if err != nil {
		return err
	}
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Dialer:    controller.NewSimulator(addrs, travel/2, work),
		LogFunc:   log.Printf,
		Debug:     debug,
	})

	done := make(chan error, 1)
	eng.Events.SubscribeTypes(func(evt engine.Event) error {
		printEvent(evt)
		var result error
		switch p := evt.Payload.(type) {
		case engine.TaskCompletedEvent:
		case engine.TaskErrorEvent:
			result = fmt.Errorf("task failed: %s", p.Detail)
		default:
			return nil
		}
		select {
		case done <- result:
		default:
		}
		return nil
	}, engine.EventStageChanged, engine.EventTaskStarted, engine.EventItemSent,
		engine.EventItemRepaired, engine.EventTaskCompleted, engine.EventTaskError)

	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()
	eng.RequestTask(side, "cli")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case <-sigCh:
		return eng.AbortTask("interrupted")
	}
}

func parseItems(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || n > 65535 {
			return nil, fmt.Errorf("invalid item position %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

var (
	stageColor = color.New(color.FgCyan)
	itemColor  = color.New(color.FgYellow)
	doneColor  = color.New(color.FgHiGreen, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
)

func printEvent(evt engine.Event) {
	ts := evt.Timestamp.Format("15:04:05.000")
	switch p := evt.Payload.(type) {
	case engine.StageChangedEvent:
		fmt.Printf("%s %s %s -> %s\n", ts, stageColor.Sprint("stage "), p.OldStage, p.NewStage)
	case engine.TaskStartedEvent:
		fmt.Printf("%s %s task %s side %s hand-off %d resumed=%v\n", ts, stageColor.Sprint("start "), p.TaskID, p.Side, p.Handoff, p.Resumed)
	case engine.ItemEvent:
		fmt.Printf("%s %s item %d (%d/%d)\n", ts, itemColor.Sprintf("%-6s", strings.TrimPrefix(evt.Type.String(), "item-")), p.Item, p.Completed, p.Total)
	case engine.TaskCompletedEvent:
		fmt.Printf("%s %s task %s %d/%d\n", ts, doneColor.Sprint("done  "), p.TaskID, p.Completed, p.Total)
	case engine.TaskErrorEvent:
		fmt.Printf("%s %s %s\n", ts, errColor.Sprint("error "), p.Detail)
	}
}
