package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"repairedge/config"
	"repairedge/controller"
	"repairedge/mover"
	"repairedge/reconnect"
)

var (
	okMark   = color.New(color.FgHiGreen).Sprint("ok")
	failMark = color.New(color.FgRed).Sprint("FAIL")
	label    = color.New(color.FgCyan).SprintFunc()
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Query the mover once and read the controller status coils",
		Long: `Sends one status query to the configured mover and reads the three
controller status coils, printing what each device reports. Exits non-zero if
either device does not answer.`,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	moverErr := checkMover(cfg)
	ctrlErr := checkController(cfg)
	if moverErr != nil || ctrlErr != nil {
		return fmt.Errorf("device check failed")
	}
	return nil
}

func checkMover(cfg *config.Config) error {
	sess := mover.NewSession(cfg.Mover, reconnect.FromConfig(cfg.Reconnect), nopMoverEmitter{})
	defer sess.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mover.Timeout+time.Second)
	defer cancel()
	st, err := sess.QueryStatus(ctx)
	if err != nil {
		fmt.Printf("%s mover %s: %v\n", failMark, cfg.Mover.Address, err)
		return err
	}
	fmt.Printf("%s mover %s\n", okMark, cfg.Mover.Address)
	fmt.Printf("  %s x=%.3f y=%.3f heading=%.3f confidence=%d\n", label("pose"), st.X, st.Y, st.Heading, st.Confidence)
	fmt.Printf("  %s last point=%d idle=%v order=%d remaining=%d\n", label("nav "), st.LastPointID, st.Idle(), st.OrderID, len(st.Remaining))
	fmt.Printf("  %s %.1f%% %.1fV %.2fA charging=%v\n", label("batt"), st.Charge, st.Voltage, st.Current, st.Charging)
	return nil
}

func checkController(cfg *config.Config) error {
	sess, err := dialController(cfg)
	if err != nil {
		fmt.Printf("%s controller %s: %v\n", failMark, cfg.Controller.Address, err)
		return err
	}
	defer sess.Stop()

	fmt.Printf("%s controller %s\n", okMark, cfg.Controller.Address)
	ctx := context.Background()
	for _, name := range []string{controller.ControllerAtItem, controller.ActuatorDone, controller.ControllerAtHandoff} {
		v, err := sess.ReadCoil(ctx, name)
		if err != nil {
			fmt.Printf("  %s %v\n", label(name), err)
			return err
		}
		fmt.Printf("  %s %v\n", label(name), v)
	}
	return nil
}

func dialController(cfg *config.Config) (*controller.Session, error) {
	addrs, err := controller.NewAddressMap(cfg.Controller.Addresses)
	if err != nil {
		return nil, err
	}
	dialer := controller.TCPDialer{Address: cfg.Controller.Address, SlaveID: cfg.Controller.SlaveID, Timeout: cfg.Controller.Timeout}
	sess := controller.NewSession(cfg.Controller, addrs, dialer, reconnect.FromConfig(cfg.Reconnect), nopControllerEmitter{})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Controller.Timeout+time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		sess.Stop()
		return nil, err
	}
	return sess, nil
}

// resolveAddress accepts a configured name or a raw address like M500.
func resolveAddress(cfg *config.Config, s string) (controller.Address, error) {
	if raw, ok := cfg.Controller.Addresses[s]; ok {
		s = raw
	}
	return controller.ParseAddress(s)
}

func coilCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coil",
		Short: "Read or write one controller coil or register",
		Long: `Reads or writes a single controller address for commissioning. The
address is either a configured name (actuator_enable) or a raw address (M101,
D100). Registers take a decimal value, coils take true/false or 1/0.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "read <name|address>",
		Short: "Read a coil or register",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, err := resolveAddress(cfg, args[0])
			if err != nil {
				return err
			}
			sess, err := dialController(cfg)
			if err != nil {
				return err
			}
			defer sess.Stop()

			if addr.Space == controller.Register {
				v, err := sess.Adapter().ReadRegister(addr.String())
				if err != nil {
					return err
				}
				fmt.Printf("%s = %d\n", label(addr), v)
				return nil
			}
			v, err := sess.Adapter().ReadCoil(addr.String())
			if err != nil {
				return err
			}
			fmt.Printf("%s = %v\n", label(addr), v)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "write <name|address> <value>",
		Short: "Write a coil or register",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, err := resolveAddress(cfg, args[0])
			if err != nil {
				return err
			}
			sess, err := dialController(cfg)
			if err != nil {
				return err
			}
			defer sess.Stop()

			if addr.Space == controller.Register {
				v, err := strconv.ParseUint(args[1], 10, 16)
				if err != nil {
					return fmt.Errorf("register value %q: %w", args[1], err)
				}
				if err := sess.Adapter().WriteRegister(addr.String(), uint16(v)); err != nil {
					return err
				}
			} else {
				v, err := strconv.ParseBool(args[1])
				if err != nil {
					return fmt.Errorf("coil value %q: %w", args[1], err)
				}
				if err := sess.Adapter().WriteCoil(addr.String(), v); err != nil {
					return err
				}
			}
			fmt.Printf("%s %s <- %s\n", okMark, label(addr), args[1])
			return nil
		},
	})
	return cmd
}

type nopMoverEmitter struct{}

func (nopMoverEmitter) EmitMoverStatus(string, mover.Status)                  {}
func (nopMoverEmitter) EmitMoverArrived(string, uint32, uint32, uint32, bool) {}
func (nopMoverEmitter) EmitMoverConnected(string)                             {}
func (nopMoverEmitter) EmitMoverDisconnected(string, error)                   {}

type nopControllerEmitter struct{}

func (nopControllerEmitter) EmitControllerStatus(string, controller.Status) {}
func (nopControllerEmitter) EmitControllerItemReached(string)               {}
func (nopControllerEmitter) EmitControllerActuatorDone(string)              {}
func (nopControllerEmitter) EmitControllerReturned(string)                  {}
func (nopControllerEmitter) EmitControllerConnected(string)                 {}
func (nopControllerEmitter) EmitControllerDisconnected(string, error)       {}
