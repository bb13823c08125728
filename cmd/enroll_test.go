package cmd

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/gallery"
)

func TestEnrollHelp_ExamplesMatchIdentityFromFolder(t *testing.T) {
	pairs := regexp.MustCompile(`"([^"]+)" -> "([^"]+)"`).FindAllStringSubmatch(enrollCmd.Long, -1)
	require.NotEmpty(t, pairs)
	for _, p := range pairs {
		assert.Equal(t, p[2], gallery.IdentityFromFolder(p[1]), "help example %q", p[1])
	}
}
