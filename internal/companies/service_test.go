package companies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectShipperSitePrefersExporterOfRecord(t *testing.T) {
	sites := []Site{
		{ID: 1, OriginCode: "VN", IsDefault: true},
		{ID: 2, OriginCode: "VN", ExporterOfRecord: true},
		{ID: 3, OriginCode: "VN"},
	}
	site, ok := SelectShipperSite(sites)
	require.True(t, ok)
	assert.Equal(t, int64(2), site.ID)
}

func TestSelectShipperSiteFallsBackToDefault(t *testing.T) {
	sites := []Site{
		{ID: 1, OriginCode: "VN"},
		{ID: 2, OriginCode: "VN", IsDefault: true},
	}
	site, ok := SelectShipperSite(sites)
	require.True(t, ok)
	assert.Equal(t, int64(2), site.ID)
}

func TestSelectShipperSiteFallsBackToMostRecentlyUpdated(t *testing.T) {
	now := time.Now()
	sites := []Site{
		{ID: 1, OriginCode: "VN", UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: 2, OriginCode: "VN", UpdatedAt: now},
		{ID: 3, OriginCode: "VN", UpdatedAt: now.Add(-time.Hour)},
	}
	site, ok := SelectShipperSite(sites)
	require.True(t, ok)
	assert.Equal(t, int64(2), site.ID)
}

func TestSelectShipperSiteEmpty(t *testing.T) {
	_, ok := SelectShipperSite(nil)
	assert.False(t, ok)
}

func TestPortOfLoadingByShipMode(t *testing.T) {
	site := Site{SeaPortOfLoading: "HAIPHONG", AirPortOfLoading: "HAN"}
	assert.Equal(t, "HAIPHONG", site.PortOfLoading("SEA"))
	assert.Equal(t, "HAN", site.PortOfLoading("AIR"))
	assert.Equal(t, "HAN", site.PortOfLoading("COURIER"))
}
