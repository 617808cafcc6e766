package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thirdchat/thirdchat-go/app"
	"github.com/thirdchat/thirdchat-go/models"
)

var rootCmd = &cobra.Command{
	Use:           "thirdchat",
	Short:         "Terminal client for thirdchat servers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagVerbose  bool
	flagPassword string
	flagAllRooms bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	loginCmd.Flags().StringVar(&flagPassword, "password", "", "password (prompted on stdin when omitted)")
	roomsCmd.Flags().BoolVar(&flagAllRooms, "all", false, "list every room on the server, not just joined ones")

	registerCmd.Flags().StringVar(&flagPassword, "password", "", "password (prompted on stdin when omitted)")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, roomsCmd, createCmd, joinCmd, watchCmd, openCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newApp loads the config and opens the local store. The caller owns the
// returned app and must Close it.
func newApp() (*app.App, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, newLogger())
	if err != nil {
		return nil, err
	}
	a.OnLogout(func() {
		fmt.Fprintln(os.Stderr, "session expired, logged out")
	})
	return a, nil
}

// readPassword returns the --password flag or prompts for one on stdin.
func readPassword() (string, error) {
	if flagPassword != "" {
		return flagPassword, nil
	}
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var registerCmd = &cobra.Command{
	Use:   "register <username> <email>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		password, err := readPassword()
		if err != nil {
			return err
		}
		user, err := a.Register(cmd.Context(), args[0], args[1], password)
		if err != nil {
			return err
		}
		fmt.Printf("registered %s, now run: thirdchat login %s\n", user.Username, user.Username)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Authenticate and persist the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readPassword()
		if err != nil {
			return err
		}

		if err := a.Login(cmd.Context(), args[0], password); err != nil {
			return err
		}
		user, _ := a.User()
		fmt.Printf("logged in as %s\n", user.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Logout(cmd.Context())
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		user, ok := a.User()
		if !ok {
			return app.ErrNotLoggedIn
		}
		fmt.Printf("%s <%s>\n", user.Username, user.Email)
		return nil
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List chat rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var rooms []models.Room
		if flagAllRooms {
			rooms, err = a.AllRooms(cmd.Context())
		} else {
			rooms, err = a.Rooms(cmd.Context())
			if err != nil {
				if cached, cacheErr := a.CachedRooms(cmd.Context()); cacheErr == nil && len(cached) > 0 {
					fmt.Fprintln(os.Stderr, "server unreachable, showing cached rooms")
					rooms, err = cached, nil
				}
			}
		}
		if err != nil {
			return err
		}
		printRooms(rooms)
		return nil
	},
}

func printRooms(rooms []models.Room) {
	for _, room := range rooms {
		line := fmt.Sprintf("%4d  %s", room.ID, room.Name)
		if room.UnreadCount > 0 {
			line += fmt.Sprintf("  (%d unread)", room.UnreadCount)
		}
		if room.LastMessage != nil {
			line += fmt.Sprintf("  · %s: %s", room.LastMessage.Sender.Username, room.LastMessage.Content)
		}
		fmt.Println(line)
	}
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a chat room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		room, err := a.CreateRoom(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created room %d (%s)\n", room.ID, room.Name)
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a chat room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("room id must be a number: %q", args[0])
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		joined, err := a.JoinRoom(cmd.Context(), roomID)
		if err != nil {
			return err
		}
		if !joined {
			fmt.Println("already a member")
			return nil
		}
		fmt.Printf("joined room %d\n", roomID)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream room activity until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.Rooms(ctx); err != nil {
			return err
		}
		if err := a.WatchRooms(ctx); err != nil {
			return err
		}
		a.Summary().OnChange(func() {
			fmt.Println("---", time.Now().Format(time.Kitchen), "---")
			printRooms(a.Summary().Rooms())
		})
		printRooms(a.Summary().Rooms())

		<-ctx.Done()
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <room-id>",
	Short: "Open a room: print history, stream live messages, send from stdin",
	Long: `Open a room. Incoming messages print as they arrive. Lines typed on
stdin are sent to the room. Type /older to load an older page of
history, /quit or EOF to leave.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("room id must be a number: %q", args[0])
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.OpenRoom(ctx, roomID)
		if err != nil {
			return err
		}
		defer session.Close()

		var printMu sync.Mutex
		shown := 0
		for _, msg := range session.Feed().Messages() {
			printMessage(msg)
			shown++
		}
		go func() {
			// poll the feed for live appends; the feed itself dedups
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					printMu.Lock()
					msgs := session.Feed().Messages()
					for ; shown < len(msgs); shown++ {
						printMessage(msgs[shown])
					}
					printMu.Unlock()
				}
			}
		}()

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
				return nil
			case line, ok := <-lines:
				if !ok || line == "/quit" {
					return nil
				}
				switch {
				case line == "/older":
					n, err := session.LoadOlder(ctx)
					if err != nil {
						fmt.Fprintln(os.Stderr, "load older:", err)
						continue
					}
					fmt.Fprintf(os.Stderr, "loaded %d older messages\n", n)
					// prepends shift the live cursor by the same amount
					printMu.Lock()
					shown += n
					msgs := session.Feed().Messages()
					for i := 0; i < n && i < len(msgs); i++ {
						printMessage(msgs[i])
					}
					printMu.Unlock()
				case strings.TrimSpace(line) != "":
					if err := session.Send(line); err != nil {
						fmt.Fprintln(os.Stderr, "send:", err)
					}
				}
			}
		}
	},
}

func printMessage(msg models.Message) {
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04"), msg.Sender.Username, msg.Content)
}
