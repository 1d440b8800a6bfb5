package infra

import (
	"context"
	"io"
	"os/exec"
)

// AppName tags every stress connection so chaos only kills its own backends.
const AppName = "barter-stress"

// DockerAvailable reports whether a docker daemon answers on this host.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
