package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/aldas/go-mlcb"
	"github.com/aldas/go-mlcb/addressmapper"
)

// panel is virtual front panel of the node. Shell commands press and release the push button.
type panel struct {
	pressed atomic.Bool
}

func (p *panel) read() bool {
	return p.pressed.Load()
}

// newShell creates operator shell. Commands are executed in poll loop goroutine because Node is not safe for
// concurrent use.
func newShell(commands chan<- func(), node *mlcb.Node, pool *mlcb.MultipartPool, mapper *addressmapper.AddressMapper, button *panel) *ishell.Shell {
	shell := ishell.New()
	shell.Println("MLCB node shell")
	shell.ShowPrompt(true)

	exec := func(f func()) {
		done := make(chan struct{})
		commands <- func() {
			f()
			close(done)
		}
		<-done
	}

	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "print node status",
		Func: func(c *ishell.Context) {
			var s mlcb.Status
			exec(func() { s = node.Status() })
			c.Printf("name: %v, NN: %v, CANID: %v, mode: %v, learn: %v, enumerating: %v\n",
				strings.TrimSpace(s.Name), s.NodeNumber, s.CANID, s.Mode, s.Learn, s.Enumerating)
			c.Printf("uptime: %v, sent: %v, received: %v, actioned: %v, NN changes: %v\n",
				s.Uptime.Round(time.Second), s.Counters.Sent, s.Counters.Received, s.Counters.Actioned, s.Counters.NodeNumberChanges)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "flim",
		Help: "request node number from configuration tool",
		Func: func(c *ishell.Context) {
			exec(node.InitFLiM)
			c.Println("node number requested")
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "slim",
		Help: "release node number and revert to SLiM",
		Func: func(c *ishell.Context) {
			exec(node.RevertSLiM)
			c.Println("node reverted to SLiM")
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "enum",
		Help: "start CANID self enumeration",
		Func: func(c *ishell.Context) {
			exec(node.StartEnumeration)
			c.Println("enumeration started")
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "button",
		Help: "button <press|release>, operate front panel push button",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println("usage: button <press|release>")
				return
			}
			switch c.Args[0] {
			case "press":
				button.pressed.Store(true)
			case "release":
				button.pressed.Store(false)
			default:
				c.Println("usage: button <press|release>")
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "events",
		Help: "list learned events",
		Func: func(c *ishell.Context) {
			var events []mlcb.EventEntry
			var err error
			exec(func() { events, err = node.Events() })
			if err != nil {
				c.Err(err)
				return
			}
			for _, e := range events {
				c.Printf("%3d: NN %5d EN %5d EVs %v\n", e.Index, e.NodeNumber, e.EventNumber, e.Variables)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send <opcode hex> [data hex], send raw frame",
		Func: func(c *ishell.Context) {
			frame, err := parseFrameArgs(c.Args)
			if err != nil {
				c.Println(err)
				return
			}
			exec(func() { err = node.SendFrame(frame, mlcb.DefaultPriority) })
			if err != nil {
				c.Printf("failed to send frame: %v\n", err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "qnn",
		Help: "query all nodes on the bus",
		Func: func(c *ishell.Context) {
			var err error
			exec(func() { err = node.SendFrame(addressmapper.QueryNodesFrame(), mlcb.DefaultPriority) })
			if err != nil {
				c.Printf("failed to send QNN: %v\n", err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "nodes",
		Help: "list nodes seen on the bus",
		Func: func(c *ishell.Context) {
			for _, n := range mapper.Nodes() {
				c.Printf("NN %5d CANID %3d manufacturer %3d module %3d flags 0x%02X heartbeats %d last seen %v\n",
					n.NodeNumber, n.CANID, n.Manufacturer, n.ModuleID, n.Flags, n.Heartbeats, n.LastSeen.Format("15:04:05"))
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "stream",
		Help: "stream <id> <text>, send text as multipart message",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Println("usage: stream <id> <text>")
				return
			}
			id, err := strconv.ParseUint(c.Args[0], 10, 8)
			if err != nil {
				c.Printf("invalid stream id: %v\n", err)
				return
			}
			payload := []byte(strings.Join(c.Args[1:], " "))
			exec(func() { err = pool.Send(payload, uint8(id), mlcb.DefaultPriority) })
			if err != nil {
				c.Printf("failed to send stream: %v\n", err)
			}
		},
	})
	return shell
}

func parseFrameArgs(args []string) (mlcb.Frame, error) {
	if len(args) < 1 {
		return mlcb.Frame{}, fmt.Errorf("usage: send <opcode hex> [data hex]")
	}
	opc, err := strconv.ParseUint(args[0], 16, 8)
	if err != nil {
		return mlcb.Frame{}, fmt.Errorf("invalid opcode: %w", err)
	}
	var data []byte
	if len(args) > 1 {
		data, err = hex.DecodeString(strings.Join(args[1:], ""))
		if err != nil {
			return mlcb.Frame{}, fmt.Errorf("invalid data: %w", err)
		}
	}
	if len(data) > 7 {
		return mlcb.Frame{}, fmt.Errorf("frame can hold up to 7 data bytes")
	}
	return mlcb.NewFrame(mlcb.OpCode(opc), data...), nil
}
