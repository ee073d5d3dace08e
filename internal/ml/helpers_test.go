package ml

import (
	"fmt"
	"math/rand"
	"testing"

	"click-predict/internal/session"

	"github.com/stretchr/testify/require"
)

var (
	testCities     = []string{"Moscow", "Saint Petersburg", "Kazan", "Yekaterinburg", "Samara"}
	testCategories = []string{"mobile", "desktop", "tablet"}
	testBrowsers   = []string{"Chrome", "Safari", "YaBrowser"}
	testScreens    = []string{"414x896", "1920x1080", "393x851"}
)

// syntheticRows builds n labeled sessions in which desktop visits convert far
// more often than the rest. Everything else is noise.
func syntheticRows(n int, seed int64) []session.Labeled {
	rng := rand.New(rand.NewSource(seed))
	rows := make([]session.Labeled, n)
	for i := range rows {
		category := testCategories[rng.Intn(len(testCategories))]
		p := 0.1
		if category == "desktop" {
			p = 0.8
		}
		target := 0
		if rng.Float64() < p {
			target = 1
		}

		rec := session.Record{
			SessionID:              fmt.Sprintf("%d.%d", seed, i),
			ClientID:               fmt.Sprintf("client-%d", rng.Intn(n)),
			VisitDate:              fmt.Sprintf("2021-11-%02d", 1+rng.Intn(28)),
			VisitTime:              fmt.Sprintf("%02d:%02d:00", rng.Intn(24), rng.Intn(60)),
			VisitNumber:            fmt.Sprint(1 + rng.Intn(4)),
			UTMSource:              "ZpYIoDJMcFzVoPFsHGJL",
			UTMMedium:              "banner",
			UTMCampaign:            "LEoPHuyFvzoNfnzGgfcd",
			UTMAdContent:           "vCIpmpaGBnIQhyYNkXqp",
			UTMKeyword:             "",
			DeviceCategory:         category,
			DeviceOS:               "",
			DeviceBrand:            "",
			DeviceModel:            "",
			DeviceScreenResolution: testScreens[rng.Intn(len(testScreens))],
			DeviceBrowser:          testBrowsers[rng.Intn(len(testBrowsers))],
			GeoCountry:             "Russia",
			GeoCity:                testCities[rng.Intn(len(testCities))],
		}
		rows[i] = session.Labeled{Record: rec, Target: target}
	}
	return rows
}

func fastConfig() TrainConfig {
	return TrainConfig{
		Seed:          42,
		TrainFraction: 0.7,
		Params:        Params{Iterations: 150, LearningRate: 0.1, Depth: 3, L2: 3, Patience: 20},
	}
}

// trainedPipeline fits a small pipeline on synthetic data.
func trainedPipeline(t *testing.T) (*Pipeline, []session.Labeled) {
	t.Helper()
	rows := syntheticRows(1500, 7)
	res, err := NewTrainer(fastConfig()).Train(t.Context(), rows)
	require.NoError(t, err)
	return res.Pipeline, rows
}
