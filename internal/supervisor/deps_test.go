package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loykin/spokevisor/internal/process"
	"github.com/loykin/spokevisor/internal/service"
)

func TestFromLauncherReturnsNilProcOnError(t *testing.T) {
	sp := FromLauncher(process.NewLauncher("/bin/sh", nil, nil, nil))
	p, err := sp.Spawn(context.Background(), service.Definition{Key: "x", WorkDir: "/definitely/missing"})
	assert.ErrorIs(t, err, ErrLaunchFailure)
	assert.Nil(t, p)
}
