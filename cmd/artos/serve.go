package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/artos/internal/httpapi"
	"github.com/banshee-data/artos/internal/version"
)

func runServe(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	listen := fs.String("listen", "", "Listen address (default server.listen)")
	admin := fs.Bool("admin", true, "Mount the SQL console of the synset index under /debug/")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tk, err := c.toolkit()
	if err != nil {
		return err
	}
	defer tk.Close()

	s, err := httpapi.NewServer(tk)
	if err != nil {
		return err
	}
	defer s.Close()

	mux := s.ServeMux()
	if *admin {
		if err := s.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}
	addr := *listen
	if addr == "" {
		addr = tk.Config().GetListen()
	}
	server := &http.Server{
		Addr:    addr,
		Handler: httpapi.LoggingMiddleware(mux),
	}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	fmt.Fprintf(out, "%s listening on %s\n", version.String(), addr)

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server stopped")
	return nil
}
