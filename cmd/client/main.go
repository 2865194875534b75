package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/XYinfg/distributed-booking-system/internal/client"
	"github.com/XYinfg/distributed-booking-system/internal/config"
	"github.com/XYinfg/distributed-booking-system/internal/ledger"
	"github.com/XYinfg/distributed-booking-system/internal/logger"
	"github.com/XYinfg/distributed-booking-system/internal/protocol"
)

func main() {
	pflag.String("server", "127.0.0.1:2222", "server address host:port")
	pflag.String("semantics", "at-most-once", "invocation semantics: at-most-once or at-least-once")
	pflag.Duration("timeout", 4*time.Second, "total reply wait budget per request")
	pflag.Int("attempts", 4, "retry attempts under at-least-once")
	pflag.String("env", "development", "environment: development or production")
	pflag.Parse()
	_ = viper.BindPFlag("SERVER_ADDR", pflag.Lookup("server"))
	_ = viper.BindPFlag("SEMANTICS", pflag.Lookup("semantics"))
	_ = viper.BindPFlag("REQUEST_TIMEOUT", pflag.Lookup("timeout"))
	_ = viper.BindPFlag("RETRY_ATTEMPTS", pflag.Lookup("attempts"))
	_ = viper.BindPFlag("ENV", pflag.Lookup("env"))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	semantics, err := ledger.ParseSemantics(cfg.Semantics)
	if err != nil {
		log.Fatal("invalid semantics", zap.Error(err))
	}
	c, err := client.Dial(cfg.ServerAddr, semantics, cfg.RequestTimeout, cfg.RetryAttempts, log)
	if err != nil {
		log.Fatal("connecting", zap.Error(err))
	}
	defer c.Close()

	fmt.Printf("Connected to %s (%s)\n", cfg.ServerAddr, semantics)
	runMenu(c)
}

func runMenu(c *client.Client) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println("\nAvailable commands:")
		fmt.Println("1. query   - Query facility availability")
		fmt.Println("2. book    - Book a facility")
		fmt.Println("3. change  - Shift an existing booking")
		fmt.Println("4. extend  - Extend an existing booking")
		fmt.Println("5. monitor - Monitor facility availability")
		fmt.Println("6. status  - Fetch server status")
		fmt.Println("7. exit    - Exit the client")
		fmt.Print("\nEnter command: ")

		switch readLine(reader) {
		case "1", "query":
			doQuery(c, reader)
		case "2", "book":
			doBook(c, reader)
		case "3", "change":
			doChange(c, reader)
		case "4", "extend":
			doExtend(c, reader)
		case "5", "monitor":
			doMonitor(c, reader)
		case "6", "status":
			report(c.Status())
		case "7", "exit":
			fmt.Println("Exiting client.")
			return
		default:
			fmt.Println("Unknown command. Please try again.")
		}
	}
}

func doQuery(c *client.Client, reader *bufio.Reader) {
	fmt.Print("Enter facility name: ")
	name := readLine(reader)
	days, err := readDays(reader)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	report(c.QueryAvailability(name, days))
}

func doBook(c *client.Client, reader *bufio.Reader) {
	fmt.Print("Enter facility name: ")
	name := readLine(reader)
	start, err := readWeekTime(reader, "start")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	end, err := readWeekTime(reader, "end")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	confirmation, err := c.Book(name, start, end)
	if err != nil {
		fmt.Printf("Booking failed: %v\n", err)
		return
	}
	fmt.Printf("Booking successful! Confirmation ID: %s\n", confirmation)
}

func doChange(c *client.Client, reader *bufio.Reader) {
	fmt.Print("Enter confirmation ID: ")
	id := readLine(reader)
	offset, err := readInt(reader, "Enter offset in minutes (negative to move earlier): ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	report(c.Change(id, int32(offset)))
}

func doExtend(c *client.Client, reader *bufio.Reader) {
	fmt.Print("Enter confirmation ID: ")
	id := readLine(reader)
	minutes, err := readInt(reader, "Enter minutes to extend by: ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	report(c.Extend(id, int32(minutes)))
}

func doMonitor(c *client.Client, reader *bufio.Reader) {
	fmt.Print("Enter facility name: ")
	name := readLine(reader)
	minutes, err := readInt(reader, "Enter monitor interval in minutes: ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Monitoring %s for %d minute(s); updates print as they arrive.\n", name, minutes)
	err = c.Monitor(name, int32(minutes), func(update protocol.AvailabilityUpdate) {
		fmt.Printf("\n[Update] %s\n%s\n", update.FacilityName, update.Grid)
	})
	if err != nil {
		fmt.Printf("Monitor failed: %v\n", err)
		return
	}
	fmt.Println("Monitor interval over.")
}

func report(text string, err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(text)
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func readInt(reader *bufio.Reader, prompt string) (int, error) {
	fmt.Print(prompt)
	return strconv.Atoi(readLine(reader))
}

var dayNames = map[string]time.Weekday{
	"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	"sun": time.Sunday,
}

// readDays parses a comma-separated day list like "mon,wed,fri". Empty input
// is a legal empty list.
func readDays(reader *bufio.Reader) ([]time.Weekday, error) {
	fmt.Print("Enter days (e.g. mon,tue,fri; empty for none): ")
	line := readLine(reader)
	if line == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(line, ",") {
		key := strings.ToLower(strings.TrimSpace(part))
		if len(key) < 3 {
			return nil, fmt.Errorf("unknown day %q", part)
		}
		day, ok := dayNames[key[:3]]
		if !ok {
			return nil, fmt.Errorf("unknown day %q", part)
		}
		days = append(days, day)
	}
	return days, nil
}

// readWeekTime parses "mon 09:30" style input.
func readWeekTime(reader *bufio.Reader, which string) (protocol.WeekTime, error) {
	fmt.Printf("Enter %s time (e.g. mon 09:30): ", which)
	fields := strings.Fields(readLine(reader))
	if len(fields) != 2 {
		return protocol.WeekTime{}, fmt.Errorf("expected day and hh:mm")
	}
	key := strings.ToLower(fields[0])
	if len(key) < 3 {
		return protocol.WeekTime{}, fmt.Errorf("unknown day %q", fields[0])
	}
	day, ok := dayNames[key[:3]]
	if !ok {
		return protocol.WeekTime{}, fmt.Errorf("unknown day %q", fields[0])
	}
	hhmm := strings.Split(fields[1], ":")
	if len(hhmm) != 2 {
		return protocol.WeekTime{}, fmt.Errorf("expected hh:mm")
	}
	hour, err := strconv.Atoi(hhmm[0])
	if err != nil || hour < 0 || hour > 23 {
		return protocol.WeekTime{}, fmt.Errorf("bad hour %q", hhmm[0])
	}
	minute, err := strconv.Atoi(hhmm[1])
	if err != nil || minute < 0 || minute > 59 {
		return protocol.WeekTime{}, fmt.Errorf("bad minute %q", hhmm[1])
	}
	return protocol.WeekTime{Day: day, Hour: hour, Minute: minute}, nil
}
