package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aerobeam/flyscan/api"
	"github.com/aerobeam/flyscan/internal/config"
	"github.com/aerobeam/flyscan/internal/filterbank"
	"github.com/aerobeam/flyscan/internal/monitoring"
	"github.com/aerobeam/flyscan/internal/scandb"
	"github.com/aerobeam/flyscan/internal/serialmux"
	"github.com/aerobeam/flyscan/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a simulated controller")
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Path to scan configuration JSON")
	dbFile     = flag.String("db", "scans.db", "Path to the scan database")
)

// Main
func main() {
	flag.Parse()

	log.Print(version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyScanConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadScanConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	var m serialmux.SerialMuxInterface
	if *devMode {
		mock, _ := serialmux.NewMockSerialMux()
		m = mock
	} else {
		var err error
		m, err = serialmux.NewRealSerialMux(cfg.GetSerialPort(), serialmux.PortOptions{
			BaudRate: cfg.GetBaudRate(),
		})
		if err != nil {
			log.Fatalf("failed to open controller port: %v", err)
		}
	}
	defer m.Close()

	db, err := scandb.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	driver := NewDriver(m, db, cfg)

	var filters *filterbank.Controller
	if len(cfg.FilterSlots) > 0 {
		slots := make([]filterbank.Slot, 0, len(cfg.FilterSlots))
		for _, s := range cfg.FilterSlots {
			slots = append(slots, filterbank.Slot{
				Number:    s.Slot,
				Role:      filterbank.SlotRole(s.Role),
				Material:  s.Material,
				Thickness: s.Thickness,
			})
		}
		bank, err := filterbank.NewBank(slots)
		if err != nil {
			log.Fatalf("invalid filter bank configuration: %v", err)
		}
		filters = filterbank.NewController(bank, func(mask filterbank.Mask) error {
			log.Printf("filter bank mask set to %04b", mask)
			return nil
		})
	}

	// Create a wait group for the HTTP server and serial monitor routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the controller port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor controller port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// put the controller's ASCII interface into a known state
	if err := m.Initialize(); err != nil {
		log.Fatalf("failed to initialize controller: %v", err)
	}

	// log response lines the driver doesn't consume: faults and rejected
	// commands are worth seeing even when nothing is waiting on them
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := m.Subscribe()
		defer m.Unsubscribe(id)
		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				switch serialmux.ClassifyResponse(line) {
				case serialmux.ResponseFault:
					monitoring.Logf("controller fault: %q", line)
				case serialmux.ResponseInvalid:
					monitoring.Logf("controller rejected command: %q", line)
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		db.AttachAdminRoutes(mux)
		m.AttachAdminRoutes(mux)

		// create a new API server instance using the scan driver and database
		// and mount the API handlers
		apiMux := api.NewServer(m, db, driver, IsAllowedCommand).WithFilterBank(filters).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
