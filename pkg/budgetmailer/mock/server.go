package mock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server serves an API on a loopback port.
type Server struct {
	URL string
	API *API

	srv  *http.Server
	done chan struct{}
}

// Serve starts handler on 127.0.0.1 using an ephemeral port. URL ends with a
// slash and can be used directly as the client endpoint.
func Serve(api *API, wrap ...func(http.Handler) http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("mock: listen: %w", err)
	}
	var h http.Handler = api
	for _, w := range wrap {
		h = w(h)
	}
	s := &Server{
		URL:  "http://" + ln.Addr().String() + "/",
		API:  api,
		srv:  &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		_ = s.srv.Serve(ln)
	}()
	return s, nil
}

// Close stops the server and waits for the serve loop to exit.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
