// Package localipc implements the line-oriented command server exposed
// over the local endpoint for operator inspection: dump the routing table,
// list neighbors, and inject a test packet.
package localipc

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/MOACChain/MoacLib/log"

	"github.com/dugdmitry/adhoc-routing/datahandler"
	"github.com/dugdmitry/adhoc-routing/neighbor"
	"github.com/dugdmitry/adhoc-routing/routing"
	"github.com/dugdmitry/adhoc-routing/transport"
)

// Server answers operator commands over accepted connections. It never
// touches the hot path directly; every command reads from, or injects
// into, components that already own their state.
type Server struct {
	endpoint  *transport.LocalEndpoint
	neighbors *neighbor.Table
	routes    *routing.Table
	handler   *datahandler.Handler

	stop chan struct{}
	done chan struct{}
}

// New builds a Server bound to an already-listening local endpoint.
func New(endpoint *transport.LocalEndpoint, neighbors *neighbor.Table, routes *routing.Table, handler *datahandler.Handler) *Server {
	return &Server{
		endpoint:  endpoint,
		neighbors: neighbors,
		routes:    routes,
		handler:   handler,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the accept loop in its own goroutine.
func (s *Server) Start() {
	go s.loop()
}

func (s *Server) loop() {
	defer close(s.done)
	for {
		conn, err := s.endpoint.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				log.Debug("localipc: accept", "err", err)
				continue
			}
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.dispatch(conn, line)
	}
}

func (s *Server) dispatch(conn net.Conn, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "neighbors":
		s.dumpNeighbors(conn)
	case "routes":
		s.dumpRoutes(conn)
	case "inject":
		s.inject(conn, fields[1:])
	default:
		fmt.Fprintf(conn, "unknown command: %s\n", fields[0])
	}
}

func (s *Server) dumpNeighbors(conn net.Conn) {
	table := tablewriter.NewWriter(conn)
	table.SetHeader([]string{"MAC", "IPv4", "IPv6", "Last Seen"})
	for _, n := range s.neighbors.Neighbors() {
		table.Append([]string{
			n.MAC.String(),
			ipOrDash(n.IPv4),
			ipOrDash(n.IPv6),
			n.LastSeen.Format("15:04:05"),
		})
	}
	table.Render()
}

func (s *Server) dumpRoutes(conn net.Conn) {
	table := tablewriter.NewWriter(conn)
	table.SetHeader([]string{"Destination", "Neighbor", "Value"})
	for _, e := range s.routes.Snapshot() {
		for mac, v := range e.Values {
			table.Append([]string{e.Dst.String(), mac, strconv.FormatFloat(v, 'f', 4, 64)})
		}
	}
	table.Render()
}

func (s *Server) inject(conn net.Conn, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(conn, "usage: inject <hex-payload>")
		return
	}
	payload, err := hex.DecodeString(args[0])
	if err != nil {
		fmt.Fprintf(conn, "bad payload: %v\n", err)
		return
	}
	s.handler.HandleOutbound(payload)
	fmt.Fprintln(conn, "ok")
}

func ipOrDash(ip net.IP) string {
	if ip == nil {
		return "-"
	}
	return ip.String()
}

// Stop signals the accept loop to exit; in-flight connections finish on
// their own.
func (s *Server) Stop() {
	close(s.stop)
	s.endpoint.Close()
	<-s.done
}
