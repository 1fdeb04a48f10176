// cmd/installer/main.go

// Installer copies templated systemd service files into place so the bridge
// runs as a service on a shore-side box. Placeholders of the form @NAME@ in
// the unit file are substituted from the flags below; an identical existing
// unit is left untouched unless forced.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

var (
	serviceDir = flag.String("service-directory", "/etc/systemd/system", "where to copy service files to")
	hostname   = flag.String("hostname", "gliderfmc1.ceoas.oregonstate.edu", "remote dockserver hostname")
	port       = flag.Int("port", 6565, "RUDICS port on the remote host")
	username   = flag.String("username", "", "user to execute the service as (default: current user)")
	group      = flag.String("group", "dialout", "group to execute the service as")
	baudRate   = flag.Int("baudrate", 115200, "baud rate for the serial connection")
	timeout    = flag.Int("timeout", 3600, "seconds of silence before the connection times out")
	workDir    = flag.String("directory", "~/logs", "working directory for the service")
	restartSec = flag.Int("restart-seconds", 60, "delay before systemd restarts an exited instance")
	executable = flag.String("executable", "serial2rudics", "bridge executable started by the service")
	force      = flag.Bool("force", false, "write the unit file even when identical")
	sudo       = flag.String("sudo", "/usr/bin/sudo", "sudo executable")
	systemctl  = flag.String("systemctl", "/bin/systemctl", "systemctl executable")
)

// barebones strips blank lines and comments so functionally identical unit
// files compare equal.
func barebones(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func equalUnits(a, b string) bool {
	la, lb := barebones(a), barebones(b)
	if len(la) != len(lb) {
		return false
	}
	for i := range la {
		if la[i] != lb[i] {
			return false
		}
	}
	return true
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func installService(service string) (bool, error) {
	target := filepath.Join(*serviceDir, filepath.Base(service))

	raw, err := os.ReadFile(service)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", service, err)
	}

	execPath, err := filepath.Abs(*executable)
	if err != nil {
		execPath = *executable
	}

	replacer := strings.NewReplacer(
		"@DATE@", "Generated on "+time.Now().Format(time.ANSIC),
		"@USERNAME@", *username,
		"@GROUPNAME@", *group,
		"@DIRECTORY@", expandHome(*workDir),
		"@EXECUTABLE@", execPath,
		"@HOSTNAME@", *hostname,
		"@PORT@", fmt.Sprint(*port),
		"@BAUDRATE@", fmt.Sprint(*baudRate),
		"@TIMEOUT@", fmt.Sprint(*timeout),
		"@RESTARTSECONDS@", fmt.Sprint(*restartSec),
	)
	rendered := replacer.Replace(string(raw))

	if !*force {
		if current, err := os.ReadFile(target); err == nil && equalUnits(string(current), rendered) {
			fmt.Printf("%s is up to date\n", target)
			return false, nil
		}
	}

	tmp, err := os.CreateTemp("", "serial2rudics-unit-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(rendered); err != nil {
		tmp.Close()
		return false, err
	}
	tmp.Close()

	fmt.Printf("Writing %s\n", target)
	if err := run(*sudo, "/bin/cp", tmp.Name(), target); err != nil {
		return false, fmt.Errorf("failed to install %s: %w", target, err)
	}
	if err := run(*sudo, "/bin/chmod", "0644", target); err != nil {
		return false, fmt.Errorf("failed to chmod %s: %w", target, err)
	}
	return true, nil
}

func main() {
	flag.Parse()

	services := flag.Args()
	if len(services) == 0 {
		services = []string{"serial2rudics@.service"}
	}

	if *username == "" {
		current, err := user.Current()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine current user: %v\n", err)
			os.Exit(1)
		}
		*username = current.Username
	}

	changed := false
	for _, service := range services {
		didWrite, err := installService(service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
			os.Exit(1)
		}
		changed = changed || didWrite
	}

	if !changed {
		return
	}

	fmt.Println("Reloading systemd daemon")
	if err := run(*sudo, *systemctl, "daemon-reload"); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR daemon-reload: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Enabling %s\n", strings.Join(services, " "))
	args := append([]string{*systemctl, "enable"}, services...)
	if err := run(*sudo, args...); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR enable: %v\n", err)
		os.Exit(1)
	}
}
