// Command bufferpoolctl is an interactive shell for driving a live
// PoolManager directly, without going through a network-facing API.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/gojodb/bufferpool/core/bufferpool"
)

func main() {
	configPath := flag.String("config", "", "path to a bufferpool YAML config; defaults are used if empty")
	flag.Parse()

	cfg := bufferpool.DefaultConfig()
	if *configPath != "" {
		loaded, err := bufferpool.LoadConfig(*configPath)
		if err != nil {
			fmt.Println("error loading config:", err)
			return
		}
		cfg = loaded
	}

	zlog, err := zap.NewDevelopment()
	if err != nil {
		fmt.Println("error building logger:", err)
		return
	}
	defer zlog.Sync()

	disk, err := bufferpool.NewFileDiskManager(cfg.DBFile, cfg.PageSize, bufferpool.WithDiskLogger(zlog))
	if err != nil {
		fmt.Println("error opening disk manager:", err)
		return
	}
	defer disk.Close()

	pool, err := bufferpool.NewPoolManager(cfg.PoolSize, cfg.PageSize, cfg.NumInstances, 0, disk, bufferpool.NopLogManager{}, bufferpool.WithLogger(zlog))
	if err != nil {
		fmt.Println("error building pool manager:", err)
		return
	}

	rl, err := readline.New("bufferpool> ")
	if err != nil {
		fmt.Println("error starting shell:", err)
		return
	}
	defer rl.Close()

	fmt.Println("bufferpoolctl — commands: new, fetch <pid>, unpin <pid> <true|false>, flush <pid>, flushall, delete <pid>, stats, quit")
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return
			}
			fmt.Println("error:", err)
			continue
		}
		if err := dispatch(pool, strings.Fields(line)); err != nil {
			if errors.Is(err, errUserQuit) {
				return
			}
			fmt.Println("error:", err)
		}
	}
}

func dispatch(pool *bufferpool.PoolManager, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "quit", "exit":
		return errUserQuit

	case "new":
		frame, pid, err := pool.NewPage()
		if err != nil {
			return err
		}
		fmt.Printf("allocated page %d in frame %d\n", pid, frame.Index())
		return nil

	case "fetch":
		pid, err := parsePageID(fields, 1)
		if err != nil {
			return err
		}
		frame, err := pool.FetchPage(pid)
		if err != nil {
			return err
		}
		fmt.Printf("page %d resident in frame %d, pin_count=%d, dirty=%t\n", pid, frame.Index(), frame.PinCount(), frame.IsDirty())
		return nil

	case "unpin":
		if len(fields) < 3 {
			return fmt.Errorf("usage: unpin <pid> <true|false>")
		}
		pid, err := parsePageID(fields, 1)
		if err != nil {
			return err
		}
		dirty, err := strconv.ParseBool(fields[2])
		if err != nil {
			return fmt.Errorf("dirty flag must be true/false: %w", err)
		}
		return pool.UnpinPage(pid, dirty)

	case "flush":
		pid, err := parsePageID(fields, 1)
		if err != nil {
			return err
		}
		return pool.FlushPage(pid)

	case "flushall":
		return pool.FlushAllPages()

	case "delete":
		pid, err := parsePageID(fields, 1)
		if err != nil {
			return err
		}
		return pool.DeletePage(pid)

	case "stats":
		s := pool.Stats()
		fmt.Printf("pool_size=%d free=%d pinned=%d eligible=%d hits=%d misses=%d evictions=%d\n",
			s.PoolSize, s.FramesFree, s.FramesPinned, s.FramesEligible, s.Hits, s.Misses, s.Evictions)
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

var errUserQuit = errors.New("bufferpoolctl: quit")

func parsePageID(fields []string, idx int) (bufferpool.PageID, error) {
	if len(fields) <= idx {
		return bufferpool.InvalidPageID, fmt.Errorf("missing page id argument")
	}
	n, err := strconv.ParseInt(fields[idx], 10, 64)
	if err != nil {
		return bufferpool.InvalidPageID, fmt.Errorf("invalid page id %q: %w", fields[idx], err)
	}
	return bufferpool.PageID(n), nil
}
