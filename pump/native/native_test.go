package native

import (
	"testing"

	"github.com/lilobooter/imp/pump/pumptest"
)

func TestConformance(t *testing.T) {
	t.Parallel()
	pumptest.Conformance(t, &Pump{})
}
