package utils

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
)

func OpenBrowser(url string) {
	args := []string{}
	switch runtime.GOOS {
	case "windows":
		r := strings.NewReplacer("&", "^&")
		args = []string{"cmd", "start", "/", r.Replace(url)}
	case "linux":
		args = []string{"xdg-open", url}
	case "darwin":
		args = []string{"open", url}
	default:
		slog.Warn("cannot open a browser on this platform", slog.String("os", runtime.GOOS))
		return
	}

	//nolint
	out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	if err != nil {
		slog.Warn("failed to open browser",
			slog.String("output", string(out)),
			slog.String("error", err.Error()))
	}
}

func Filter(ss []string) []string {
	rs := []string{}

	for _, s := range ss {
		if s == "" {
			continue
		}
		rs = append(rs, s)
	}

	return rs
}

func GetEnv(key, def string) string {
	v := os.Getenv(key)
	if v != "" {
		return v
	}
	return def
}

// WindowSize extracts rows and columns from a decoded JSON object. The
// column count may be named "cols" or "columns".
func WindowSize(msg interface{}) (rows, cols uint16, err error) {
	data, ok := msg.(map[string]interface{})
	if !ok {
		return 0, 0, errors.Errorf("invalid message: %#+v", msg)
	}

	r, err := dimension(data, "rows")
	if err != nil {
		return 0, 0, err
	}
	c, err := dimension(data, "cols", "columns")
	if err != nil {
		return 0, 0, err
	}
	return r, c, nil
}

func dimension(data map[string]interface{}, keys ...string) (uint16, error) {
	for _, k := range keys {
		v, ok := data[k]
		if !ok {
			continue
		}
		f, ok := v.(float64)
		if !ok || f < 1 || f > 0xFFFF {
			return 0, errors.Errorf("invalid %s: %v", k, v)
		}
		return uint16(f), nil
	}
	return 0, errors.Errorf("missing %s", keys[0])
}

// Registration is a service registered with a consul agent.
type Registration struct {
	client *api.Client
	ID     string
}

// Register registers the server with the consul agent at consulHost, with
// an HTTP check against /live.
func Register(consulHost string, port int) (*Registration, error) {
	client, err := api.NewClient(&api.Config{
		Address: consulHost,
		Scheme:  "http",
	})
	if err != nil {
		return nil, errors.Wrap(err, "consul client")
	}
	ip, err := GetIP(consulHost)
	if err != nil {
		return nil, err
	}
	serviceID := fmt.Sprintf("wsterm-%s-%d", ip, port)
	err = client.Agent().ServiceRegister(&api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    "wsterm",
		Tags:    []string{"wsterm", "websocket"},
		Port:    port,
		Address: ip,
		Check: &api.AgentServiceCheck{
			Interval:                       "5s",
			Timeout:                        "5s",
			HTTP:                           fmt.Sprintf("http://%s/live", net.JoinHostPort(ip, fmt.Sprint(port))),
			DeregisterCriticalServiceAfter: "1m",
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "consul register")
	}
	return &Registration{client: client, ID: serviceID}, nil
}

// Deregister removes the service from the agent.
func (r *Registration) Deregister() error {
	return errors.Wrap(r.client.Agent().ServiceDeregister(r.ID), "consul deregister")
}

// GetIP returns the local address used to reach target, a host:port. No
// packet is sent.
func GetIP(target string) (ip string, err error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "", errors.Wrapf(err, "resolve local address towards %s", target)
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", errors.Wrap(err, "local address")
	}
	return host, nil
}
