package emulator

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
)

// maxCommandLength bounds the length prefix accepted from clients.
const maxCommandLength = 1 << 16

// Server exposes a Device over the Speculos APDU protocol.
type Server struct {
	device   *Device
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Listen starts listening on addr. Use "127.0.0.1:0" for an ephemeral port.
func Listen(addr string, device *Device) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		device:   device,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Close stops the listener and drops every client.
func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var header [4]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(header[:])
		if length > maxCommandLength {
			slog.Debug("EMULATOR", "Error", "oversized command", "Length", length)
			return
		}

		command := make([]byte, length)
		if _, err := io.ReadFull(conn, command); err != nil {
			return
		}

		reply := s.device.HandleAPDU(command)

		out := make([]byte, 4, 4+len(reply))
		binary.BigEndian.PutUint32(out, uint32(len(reply)-2))
		out = append(out, reply...)

		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}
