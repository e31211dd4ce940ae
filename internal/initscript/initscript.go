// Package initscript renders SysV init and logrotate files for a herd
// installation, filled in from the loaded configuration.
package initscript

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/herdteam/herd/internal/config"
)

// Params holds everything the templates need.
type Params struct {
	Name       string // service name, defaults to "herd"
	Binary     string // absolute path to the herd binary
	ConfigPath string
	PIDFile    string
	Logfile    string // empty disables the logrotate file
}

// FromConfig builds template parameters from a loaded config.
func FromConfig(binary, configPath string, cfg *config.Config) Params {
	return Params{
		Name:       "herd",
		Binary:     binary,
		ConfigPath: configPath,
		PIDFile:    cfg.Daemon.PIDFile,
		Logfile:    cfg.Daemon.Logfile,
	}
}

var initTmpl = template.Must(template.New("init").Parse(`#!/bin/sh
# {{.Name}}        Worker pool supervision daemon
#
# chkconfig: 2345 85 15
# description: keeps a pool of {{.Name}} worker processes alive

### BEGIN INIT INFO
# Provides:          {{.Name}}
# Required-Start:    $local_fs $remote_fs
# Required-Stop:     $local_fs $remote_fs
# Default-Start:     2 3 4 5
# Default-Stop:      0 1 6
# Short-Description: {{.Name}} worker pool daemon
### END INIT INFO

DAEMON="{{.Binary}}"
CONFIG="{{.ConfigPath}}"
PIDFILE="{{.PIDFile}}"
NAME="{{.Name}}"

test -x "$DAEMON" || exit 5

pid_of() {
    test -f "$PIDFILE" && cat "$PIDFILE"
}

case "$1" in
  start)
    echo "Starting $NAME"
    "$DAEMON" --config "$CONFIG"
    ;;
  stop)
    echo "Stopping $NAME"
    PID=$(pid_of)
    test -n "$PID" && kill -TERM "$PID"
    ;;
  restart)
    $0 stop
    sleep 1
    $0 start
    ;;
  reload)
    PID=$(pid_of)
    test -n "$PID" && kill -HUP "$PID"
    ;;
  status)
    PID=$(pid_of)
    if test -n "$PID" && kill -0 "$PID" 2>/dev/null; then
        echo "$NAME is running (pid $PID)"
    else
        echo "$NAME is not running"
        exit 3
    fi
    ;;
  *)
    echo "Usage: $0 {start|stop|restart|reload|status}"
    exit 2
    ;;
esac
`))

var logrotateTmpl = template.Must(template.New("logrotate").Parse(`{{.Logfile}} {
    daily
    rotate 7
    compress
    delaycompress
    missingok
    notifempty
    postrotate
        test -f {{.PIDFile}} && kill -USR2 $(cat {{.PIDFile}}) 2>/dev/null || true
    endscript
}
`))

// InitScript renders the SysV init script.
func (p Params) InitScript() (string, error) {
	return render(initTmpl, p)
}

// LogrotateConf renders the logrotate snippet. It returns an empty
// string when no logfile is configured.
func (p Params) LogrotateConf() (string, error) {
	if p.Logfile == "" {
		return "", nil
	}
	return render(logrotateTmpl, p)
}

func render(t *template.Template, p Params) (string, error) {
	if p.Name == "" {
		p.Name = "herd"
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteFiles writes "<name>.init" and, when a logfile is configured,
// "<name>.logrotate" into dir. Existing files are refused unless force
// is set. Returns the paths written.
func WriteFiles(p Params, dir string, force bool) ([]string, error) {
	if p.Name == "" {
		p.Name = "herd"
	}

	type out struct {
		path string
		body string
		mode os.FileMode
	}
	var outs []out

	script, err := p.InitScript()
	if err != nil {
		return nil, err
	}
	outs = append(outs, out{filepath.Join(dir, p.Name+".init"), script, 0755})

	rotate, err := p.LogrotateConf()
	if err != nil {
		return nil, err
	}
	if rotate != "" {
		outs = append(outs, out{filepath.Join(dir, p.Name+".logrotate"), rotate, 0644})
	}

	if !force {
		for _, o := range outs {
			if _, err := os.Stat(o.path); err == nil {
				return nil, fmt.Errorf("file %s already exists; use --force to overwrite", o.path)
			}
		}
	}

	var written []string
	for _, o := range outs {
		if err := os.WriteFile(o.path, []byte(o.body), o.mode); err != nil {
			return written, fmt.Errorf("cannot write %s: %w", o.path, err)
		}
		written = append(written, o.path)
	}
	return written, nil
}
