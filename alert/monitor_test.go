package alert

import (
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qsgrc/telemetry-core/record"
)

func newTestMonitor() *Monitor {
	return NewMonitor("warning", 16, log.Default())
}

func drain(t *testing.T, m *Monitor) []*record.Alert {
	t.Helper()
	var out []*record.Alert
	for {
		select {
		case a := <-m.Out:
			out = append(out, a)
		default:
			return out
		}
	}
}

func TestCheck_NoRuleIsNoop(t *testing.T) {
	m := newTestMonitor()
	m.Check("engine_rpm", 9000)
	assert.Empty(t, drain(t, m))
}

func TestCheck_RisingEdgeEmitsTriggeredTrue(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("engine_rpm", record.GTE, 4500, true)

	m.Check("engine_rpm", 4000)
	assert.Empty(t, drain(t, m))

	m.Check("engine_rpm", 4600)
	emitted := drain(t, m)
	require.Len(t, emitted, 1)
	assert.True(t, emitted[0].Triggered)
	assert.Equal(t, 4600.0, emitted[0].Val)
}

func TestCheck_HoldLatchesThroughFallingSamples(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("engine_rpm", record.GTE, 4500, true)

	m.Check("engine_rpm", 4000)
	m.Check("engine_rpm", 4600)
	drain(t, m)

	// falling below threshold with hold=true must NOT emit or clear
	m.Check("engine_rpm", 5000)
	m.Check("engine_rpm", 3000)
	m.Check("engine_rpm", 3000)
	assert.Empty(t, drain(t, m), "hold=true must latch until an explicit clear")
}

func TestCheck_NoHoldEmitsFallingEdge(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("oil_temp", record.GT, 120, false)

	m.Check("oil_temp", 130)
	rising := drain(t, m)
	require.Len(t, rising, 1)
	assert.True(t, rising[0].Triggered)

	m.Check("oil_temp", 110)
	falling := drain(t, m)
	require.Len(t, falling, 1)
	assert.False(t, falling[0].Triggered)
	assert.Equal(t, 110.0, falling[0].Val)
}

func TestClearCondition_EmitsClearAndResetsLatch(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("engine_rpm", record.GTE, 4500, true)
	m.Check("engine_rpm", 4600)
	drain(t, m)

	m.ClearCondition("engine_rpm")
	cleared := drain(t, m)
	require.Len(t, cleared, 1)
	assert.False(t, cleared[0].Triggered)
	assert.Equal(t, 0.0, cleared[0].Val)

	// after clearing, a fresh rising edge must fire again
	m.Check("engine_rpm", 4700)
	rising := drain(t, m)
	require.Len(t, rising, 1)
	assert.True(t, rising[0].Triggered)
}

func TestRemoveRule_DoesNotClearLatchedCondition(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("engine_rpm", record.GTE, 4500, true)
	m.Check("engine_rpm", 4600)
	drain(t, m)

	m.RemoveRule("engine_rpm")
	assert.Empty(t, drain(t, m), "removing a rule must not itself emit a clear record")

	// with the rule gone, further samples are a no-op regardless of value
	m.Check("engine_rpm", 9000)
	assert.Empty(t, drain(t, m))

	// re-adding the rule inherits the still-latched condition, so a
	// firing sample is not a new rising edge
	m.AddRule("engine_rpm", record.GTE, 4500, true)
	m.Check("engine_rpm", 9000)
	assert.Empty(t, drain(t, m), "latched condition must survive RemoveRule")
}

func TestClearAllConditions_DropsStateSilently(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("engine_rpm", record.GTE, 4500, true)
	m.AddRule("oil_temp", record.GT, 120, true)
	m.Check("engine_rpm", 4600)
	m.Check("oil_temp", 130)
	drain(t, m)

	m.ClearAllConditions()
	assert.Empty(t, drain(t, m))

	// a rule re-fires immediately since state was cleared, not latched
	m.Check("engine_rpm", 4600)
	emitted := drain(t, m)
	require.Len(t, emitted, 1)
	assert.True(t, emitted[0].Triggered)
}

func TestCheck_StaysFiringEmitsNothing(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("engine_rpm", record.GTE, 4500, false)

	m.Check("engine_rpm", 4600)
	drain(t, m)

	m.Check("engine_rpm", 4700)
	assert.Empty(t, drain(t, m), "still firing must not re-emit")
}

func TestApplyConfig_InstallsRule(t *testing.T) {
	m := newTestMonitor()
	cfg := record.NewAlertConfig("warning", "engine_rpm", record.GTE, 4500, true)
	m.ApplyConfig(cfg)

	m.Check("engine_rpm", 4600)
	emitted := drain(t, m)
	require.Len(t, emitted, 1)
	assert.True(t, emitted[0].Triggered)
}

func TestApplyConfig_RemoveSentinelRemovesRule(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("engine_rpm", record.GTE, 4500, true)

	cfg := record.NewAlertConfig("warning", "engine_rpm", record.REMOVE, 0, false)
	m.ApplyConfig(cfg)

	m.Check("engine_rpm", 9000)
	assert.Empty(t, drain(t, m), "REMOVE config must delete the rule, not install one")
}

func TestCheck_NeverFiringEmitsNothing(t *testing.T) {
	m := newTestMonitor()
	m.AddRule("engine_rpm", record.GTE, 4500, false)

	m.Check("engine_rpm", 1000)
	m.Check("engine_rpm", 2000)
	assert.Empty(t, drain(t, m))
}
