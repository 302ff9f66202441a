package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/linechat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(strings.ToLower(strings.NewReplacer(",", "", ".", "").Replace(loremIpsum)))

// generateUsername combines fragments of two random words
func generateUsername() string {
	fragment := func() string {
		w := loremWords[rand.IntN(len(loremWords))]
		n := min(len(w), 3+rand.IntN(4))
		return w[:n]
	}
	return fragment() + fragment()
}

// Stats tracks performance metrics
type Stats struct {
	messagesSent      atomic.Int64
	messagesEchoed    atomic.Int64
	privateSent       atomic.Int64
	totalResponseTime atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64
	refusals          atomic.Int64
	timeouts          atomic.Int64
	disconnections    atomic.Int64
	linesReceived     atomic.Int64
}

func (s *Stats) snapshot() (sent, echoed, received, connErrors int64, avgResponseUs float64) {
	sent = s.messagesSent.Load()
	echoed = s.messagesEchoed.Load()
	received = s.linesReceived.Load()
	connErrors = s.connectionErrors.Load()
	if echoed > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(echoed)
	}
	return
}

// BotClient is a scripted line-protocol participant
type BotClient struct {
	id    int
	name  string
	conn  net.Conn
	lines *protocol.LineReader
	stats *Stats

	// Sent-but-not-yet-echoed public messages, by text
	pendingMu sync.Mutex
	pending   map[string]time.Time

	membersMu sync.Mutex
	members   []string
}

var errRefused = errors.New("name refused")

// Connect dials the server and completes the handshake
func (bc *BotClient) Connect(serverAddr string) error {
	conn, err := net.DialTimeout("tcp", serverAddr, 5*time.Second)
	if err != nil {
		return err
	}
	bc.conn = conn
	bc.lines = protocol.NewLineReader(conn, protocol.DefaultMaxLineLength)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	prompt, err := bc.lines.ReadLine()
	if err != nil {
		return err
	}
	if prompt != protocol.NickPrompt {
		return fmt.Errorf("expected %s, got %q", protocol.NickPrompt, prompt)
	}
	if err := protocol.WriteLine(conn, bc.name); err != nil {
		return err
	}

	for {
		line, err := bc.lines.ReadLine()
		if err != nil {
			return err
		}
		if line == protocol.Refuse {
			return errRefused
		}
		if assigned, ok := strings.CutPrefix(line, "Connected as "); ok {
			bc.name = assigned
			return nil
		}
	}
}

// readLoop consumes server lines, matching public echoes to pending sends
func (bc *BotClient) readLoop() {
	prefix := "] " + bc.name + ": "
	for {
		line, err := bc.lines.ReadLine()
		if err != nil {
			return
		}
		bc.stats.linesReceived.Add(1)

		if names, ok := protocol.ParseList(line); ok {
			bc.membersMu.Lock()
			bc.members = names
			bc.membersMu.Unlock()
			continue
		}

		_, text, ok := strings.Cut(line, prefix)
		if !ok || !strings.HasPrefix(line, "[") {
			continue
		}
		bc.pendingMu.Lock()
		sentAt, found := bc.pending[text]
		delete(bc.pending, text)
		bc.pendingMu.Unlock()
		if found {
			bc.stats.messagesEchoed.Add(1)
			bc.stats.totalResponseTime.Add(time.Since(sentAt).Microseconds())
		}
	}
}

func randomText(id, seq int) string {
	wordCount := 5 + rand.IntN(16)
	words := make([]string, 0, wordCount+1)
	for range wordCount {
		words = append(words, loremWords[rand.IntN(len(loremWords))])
	}
	// Unique tail so echoes can be matched
	words = append(words, fmt.Sprintf("#%d.%d", id, seq))
	return strings.Join(words, " ")
}

// sendRandom sends a public line, or occasionally a private one
func (bc *BotClient) sendRandom(seq int) error {
	text := randomText(bc.id, seq)

	bc.membersMu.Lock()
	var target string
	if len(bc.members) > 1 && rand.Float32() < 0.1 {
		target = bc.members[rand.IntN(len(bc.members))]
	}
	bc.membersMu.Unlock()

	if target != "" && target != bc.name {
		bc.stats.privateSent.Add(1)
		return protocol.WriteLine(bc.conn, fmt.Sprintf("%s %s %s", protocol.PrivateCommand, target, text))
	}

	bc.pendingMu.Lock()
	bc.pending[text] = time.Now()
	bc.pendingMu.Unlock()
	bc.stats.messagesSent.Add(1)
	return protocol.WriteLine(bc.conn, text)
}

func (bc *BotClient) Run(duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bc.conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		bc.readLoop()
	}()

	endTime := time.Now().Add(duration)
	for seq := 0; time.Now().Before(endTime); seq++ {
		if err := bc.sendRandom(seq); err != nil {
			bc.stats.disconnections.Add(1)
			return
		}
		delay := minDelay
		if maxDelay > minDelay {
			delay += rand.N(maxDelay - minDelay)
		}
		time.Sleep(delay)
	}

	// Give outstanding echoes a moment, then count what never came back
	time.Sleep(500 * time.Millisecond)
	bc.pendingMu.Lock()
	bc.stats.timeouts.Add(int64(len(bc.pending)))
	bc.pendingMu.Unlock()

	// Stagger shutdown to avoid thundering herd on disconnect
	if shutdownDelay > 0 {
		time.Sleep(shutdownDelay)
	}
	bc.conn.Close()
	<-done
}

func main() {
	serverAddr := flag.String("server", "127.0.0.1:6666", "Server address (host:port)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between messages")
	flag.Parse()

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := max(rampUpDuration/time.Duration(*numClients), time.Millisecond)

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	stats := &Stats{}
	var wg sync.WaitGroup

	stopStats := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopStats) }) }

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, echoed, received, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d sent (%.1f/s), %d echoed, %d lines received, %d conn errors, avg echo %.2fms",
					sent, float64(sent)/elapsed, echoed, received, connErrors, avgUs/1000.0)
			case <-stopStats:
				return
			}
		}
	}()

	for i := 0; i < *numClients; i++ {
		wg.Add(1)
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot := &BotClient{id: id, name: generateUsername(), stats: stats, pending: make(map[string]time.Time)}
			if err := bot.Connect(*serverAddr); err != nil {
				if errors.Is(err, errRefused) {
					stats.refusals.Add(1)
				}
				stats.connectionErrors.Add(1)
				if bot.conn != nil {
					bot.conn.Close()
				}
				return
			}

			if id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", id, bot.name)
			}

			bot.Run(*duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		time.Sleep(staggerDelay)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping test...")
		stop()
		os.Exit(1)
	}()

	wg.Wait()
	stop()

	sent, echoed, received, connErrors, avgUs := stats.snapshot()
	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", *duration)
	log.Printf("Public messages sent: %d (%.1f/s)", sent, float64(sent)/duration.Seconds())
	log.Printf("Public messages echoed: %d", echoed)
	log.Printf("Private messages sent: %d", stats.privateSent.Load())
	log.Printf("Lines received: %d", received)
	log.Printf("Missing echoes: %d", stats.timeouts.Load())
	log.Printf("Disconnections: %d", stats.disconnections.Load())
	log.Printf("Connection errors: %d (%d refused)", connErrors, stats.refusals.Load())
	log.Printf("Average echo time: %.2fms", avgUs/1000.0)
	if sent > 0 {
		log.Printf("Echo rate: %.1f%%", float64(echoed)/float64(sent)*100)
	}
}
