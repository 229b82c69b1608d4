// Command adhocd is the ad-hoc routing daemon's entry point: start | stop |
// restart | status.
package main

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	"gopkg.in/urfave/cli.v1"

	"github.com/MOACChain/MoacLib/log"

	"github.com/dugdmitry/adhoc-routing/config"
	"github.com/dugdmitry/adhoc-routing/daemon"
	"github.com/dugdmitry/adhoc-routing/transport"
	"github.com/dugdmitry/adhoc-routing/tunnel"
)

func init() {
	cli.AppHelpTemplate = `{{.Name}} {{if .Flags}}[global options] {{end}}command{{if .Flags}} [command options]{{end}} [arguments...]

COMMANDS:
   {{range .Commands}}{{.Name}}{{with .ShortName}}, {{.}}{{end}}{{ "\t" }}{{.Usage}}
   {{end}}{{if .Flags}}
GLOBAL OPTIONS:
   {{range .Flags}}{{.}}
   {{end}}{{end}}
`
}

var configFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to the daemon's TOML configuration file",
}

var pidFlag = cli.StringFlag{
	Name:  "pidfile",
	Usage: "path the daemon writes its PID to",
	Value: "/var/run/adhocd.pid",
}

func main() {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "RL-driven layer-3 mesh routing daemon"
	app.Flags = []cli.Flag{configFlag, pidFlag}
	app.Commands = []cli.Command{
		{Name: "start", Usage: "bring the daemon up in the foreground", Action: cmdStart},
		{Name: "stop", Usage: "signal a running daemon to shut down", Action: cmdStop},
		{Name: "restart", Usage: "stop then start the daemon", Action: cmdRestart},
		{Name: "status", Usage: "print neighbor and routing table state", Action: cmdStatus},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "adhocd:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString(configFlag.Name)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func cmdStart(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	tun, err := tunnel.Open(cfg.TunIface)
	if err != nil {
		return fmt.Errorf("open tunnel: %w", err)
	}
	tx, err := transport.NewRawTransport(cfg.PhysicalIface)
	if err != nil {
		_ = tun.Close()
		return fmt.Errorf("bind physical interface: %w", err)
	}

	nodeID := rand.Uint32()
	localIP4, localIP6, err := boundAddresses(cfg.TunIface)
	if err != nil {
		return fmt.Errorf("resolve tunnel addresses: %w", err)
	}

	d, err := daemon.New(cfg, tun, tx, nodeID, localIP4, localIP6)
	if err != nil {
		return fmt.Errorf("assemble daemon: %w", err)
	}

	if err := writePIDFile(c.GlobalString(pidFlag.Name)); err != nil {
		log.Warn("adhocd: could not write pidfile", "err", err)
	}

	d.Start()
	log.Infof("adhocd: started on tun=%s phy=%s", cfg.TunIface, cfg.PhysicalIface)

	select {
	case <-signalChan():
	case <-d.Done():
		log.Error("adhocd: worker exhausted its restart budget, shutting down")
	}

	stopErr := d.Stop()
	if fatalErr := d.Err(); fatalErr != nil {
		return fatalErr
	}
	return stopErr
}

func cmdStop(c *cli.Context) error {
	pid, err := readPIDFile(c.GlobalString(pidFlag.Name))
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

func cmdRestart(c *cli.Context) error {
	if err := cmdStop(c); err != nil {
		log.Warn("adhocd: stop before restart failed", "err", err)
	}
	time.Sleep(time.Second)
	return cmdStart(c)
}

func cmdStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	conn, err := transport.Dial(cfg.LocalIPCPath)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", cfg.LocalIPCPath, err)
	}
	defer conn.Close()

	out := colorable.NewColorableStdout()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintln(out, green("adhocd status"))

	for _, cmd := range []string{"neighbors", "routes"} {
		fmt.Fprintln(conn, cmd)
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, err := io.Copy(out, bufio.NewReader(conn))
		if netErr, ok := err.(net.Error); err != nil && (!ok || !netErr.Timeout()) {
			return err
		}
	}
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func boundAddresses(ifaceName string) (net.IP, net.IP, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, nil, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, nil, err
	}
	var v4, v6 net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 == nil && ipnet.IP.To4() != nil {
			v4 = ipnet.IP.To4()
		}
		if v6 == nil && ipnet.IP.To4() == nil {
			v6 = ipnet.IP
		}
	}
	return v4, v6, nil
}

func signalChan() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch
}
