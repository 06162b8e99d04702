// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mroute

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimTableInit(t *testing.T) {
	tbl := NewSimTable()
	require.False(t, tbl.Initialized())
	require.NoError(t, tbl.Init())
	require.True(t, tbl.Initialized())
}

func TestSimTableAddVIFRejectsOutOfRange(t *testing.T) {
	tbl := NewSimTable()
	err := tbl.AddVIF(maxVIFsSim, 3, 1)
	require.Error(t, err)
}

func TestSimTableAddAndLookupMFC(t *testing.T) {
	tbl := NewSimTable()
	origin := net.ParseIP("10.0.0.5")
	group := net.ParseIP("239.1.1.1")
	require.NoError(t, tbl.AddMFC(origin, group, 0, []uint8{0, 1}))

	entry, ok := tbl.MFCEntry(origin, group)
	require.True(t, ok)
	require.Equal(t, 0, entry.ParentVIF)
	require.Equal(t, []uint8{0, 1}, entry.TTLs)
}

func TestSimTableDelMFCRemovesEntry(t *testing.T) {
	tbl := NewSimTable()
	origin := net.ParseIP("10.0.0.5")
	group := net.ParseIP("239.1.1.1")
	require.NoError(t, tbl.AddMFC(origin, group, 0, []uint8{1}))
	require.NoError(t, tbl.DelMFC(origin, group))

	_, ok := tbl.MFCEntry(origin, group)
	require.False(t, ok)
}

func TestSimTableDelMFCUnknownIsError(t *testing.T) {
	tbl := NewSimTable()
	err := tbl.DelMFC(net.ParseIP("10.0.0.5"), net.ParseIP("239.1.1.1"))
	require.Error(t, err)
}

func TestSimTableSourceFilterReplacesPriorState(t *testing.T) {
	tbl := NewSimTable()
	group := net.ParseIP("239.1.1.1")
	src1 := net.ParseIP("10.0.0.1")
	src2 := net.ParseIP("10.0.0.2")

	require.NoError(t, tbl.SetSourceFilter(group, FilterInclude, []net.IP{src1}))
	f, ok := tbl.FilterFor(group)
	require.True(t, ok)
	require.Equal(t, FilterInclude, f.Mode)
	require.Equal(t, []string{src1.String()}, f.Sources)

	require.NoError(t, tbl.SetSourceFilter(group, FilterExclude, []net.IP{src2}))
	f, ok = tbl.FilterFor(group)
	require.True(t, ok)
	require.Equal(t, FilterExclude, f.Mode)
	require.Equal(t, []string{src2.String()}, f.Sources)
}

func TestSimTableJoinAndLeaveGroup(t *testing.T) {
	tbl := NewSimTable()
	group := net.ParseIP("239.1.1.1")

	require.NoError(t, tbl.JoinGroup(group))
	require.True(t, tbl.IsJoined(group))

	require.NoError(t, tbl.SetSourceFilter(group, FilterExclude, nil))
	require.NoError(t, tbl.LeaveGroup(group))
	require.False(t, tbl.IsJoined(group))

	_, ok := tbl.FilterFor(group)
	require.False(t, ok)
}

func TestFilterModeString(t *testing.T) {
	require.Equal(t, "include", FilterInclude.String())
	require.Equal(t, "exclude", FilterExclude.String())
}

func TestSimTableAddVIFRecordsThreshold(t *testing.T) {
	tbl := NewSimTable()
	require.NoError(t, tbl.AddVIF(0, 3, 1))
	vifs := tbl.VIFs()
	v, ok := vifs[0]
	require.True(t, ok)
	require.Equal(t, 3, v.IfaceIndex)
	require.Equal(t, uint8(1), v.Threshold)
}
