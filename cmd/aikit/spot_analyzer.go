package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"

	"github.com/aistackops/aikit/pkg/logging"
)

// SpotPriceQuote is the most recent spot price observed in one
// availability zone.
type SpotPriceQuote struct {
	AvailabilityZone string
	PricePerHour     float64
	Timestamp        time.Time
}

// SpotLaunchPlan is the outcome of spot analysis: where to launch and
// at what bid, already checked against the configured ceiling.
type SpotLaunchPlan struct {
	InstanceType     string
	AvailabilityZone string
	BidPrice         float64
	MaxPrice         float64
}

// PriceStats summarizes the spot price of one availability zone over
// an observation window.
type PriceStats struct {
	Current    float64
	Average    float64
	Min        float64
	Max        float64
	Volatility float64
	Samples    int
}

// SpotPriceAnalyzer queries spot price history and picks the cheapest
// availability zone for an instance type. The pricing client is
// optional; without it only the on-demand comparison is unavailable.
type SpotPriceAnalyzer struct {
	ec2     EC2API
	pricing PricingAPI
	logger  *logging.Logger
}

func NewSpotPriceAnalyzer(api EC2API, pricingAPI PricingAPI, logger *logging.Logger) *SpotPriceAnalyzer {
	return &SpotPriceAnalyzer{ec2: api, pricing: pricingAPI, logger: logger}
}

// AnalyzeSpotPricing returns the cheapest availability zone and its
// current spot price for instanceType. When candidateAZs is empty,
// all zones of the region are queried. Zones without pricing data are
// skipped; if none remain the analysis fails with NoPricingDataError
// rather than defaulting, since launching blind risks unbounded cost.
//
// Exact price ties are broken by lexicographic zone name, so the
// selection is deterministic regardless of API response ordering.
func (a *SpotPriceAnalyzer) AnalyzeSpotPricing(ctx context.Context, instanceType, region string, candidateAZs []string) (string, float64, error) {
	if len(candidateAZs) == 0 {
		zones, err := a.listAvailabilityZones(ctx)
		if err != nil {
			return "", 0, err
		}
		candidateAZs = zones
	}

	var quotes []SpotPriceQuote
	for _, az := range candidateAZs {
		quote, ok, err := a.latestQuote(ctx, instanceType, az)
		if err != nil {
			return "", 0, err
		}
		if !ok {
			a.logger.Debug("no spot data for zone", "instance_type", instanceType, "az", az)
			continue
		}
		quotes = append(quotes, quote)
	}

	if len(quotes) == 0 {
		return "", 0, &NoPricingDataError{InstanceType: instanceType, Region: region}
	}

	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].PricePerHour != quotes[j].PricePerHour {
			return quotes[i].PricePerHour < quotes[j].PricePerHour
		}
		return quotes[i].AvailabilityZone < quotes[j].AvailabilityZone
	})

	best := quotes[0]
	a.logger.Info("spot analysis complete",
		"instance_type", instanceType,
		"best_az", best.AvailabilityZone,
		"best_price", best.PricePerHour,
		"zones_with_data", len(quotes),
	)
	return best.AvailabilityZone, best.PricePerHour, nil
}

// OptimalSpotConfiguration runs the analysis and enforces the price
// ceiling: a best price above maxPrice aborts the launch with
// PriceExceedsLimitError instead of silently going over budget.
func (a *SpotPriceAnalyzer) OptimalSpotConfiguration(ctx context.Context, instanceType string, maxPrice float64, region string) (*SpotLaunchPlan, error) {
	az, price, err := a.AnalyzeSpotPricing(ctx, instanceType, region, nil)
	if err != nil {
		return nil, err
	}
	if price > maxPrice {
		return nil, &PriceExceedsLimitError{
			InstanceType:     instanceType,
			AvailabilityZone: az,
			BestPrice:        price,
			MaxPrice:         maxPrice,
		}
	}
	return &SpotLaunchPlan{
		InstanceType:     instanceType,
		AvailabilityZone: az,
		BidPrice:         price,
		MaxPrice:         maxPrice,
	}, nil
}

// PriceStatistics aggregates per-zone price statistics over the given
// window, for the `aikit spot` report.
func (a *SpotPriceAnalyzer) PriceStatistics(ctx context.Context, instanceType string, window time.Duration) (map[string]PriceStats, error) {
	end := time.Now()
	start := end.Add(-window)

	var out *ec2.DescribeSpotPriceHistoryOutput
	err := withReadRetry(ctx, "DescribeSpotPriceHistory", func() error {
		var err error
		out, err = a.ec2.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
			InstanceTypes:       []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
			ProductDescriptions: []string{"Linux/UNIX"},
			StartTime:           aws.Time(start),
			EndTime:             aws.Time(end),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// History is returned newest first, so the first sample per zone
	// is its current price.
	stats := make(map[string]PriceStats)
	for _, point := range out.SpotPriceHistory {
		if point.AvailabilityZone == nil || point.SpotPrice == nil {
			continue
		}
		price, err := strconv.ParseFloat(*point.SpotPrice, 64)
		if err != nil {
			continue
		}
		az := *point.AvailabilityZone
		s, seen := stats[az]
		if !seen {
			s = PriceStats{Current: price, Min: price, Max: price}
		}
		if price < s.Min {
			s.Min = price
		}
		if price > s.Max {
			s.Max = price
		}
		s.Average = (s.Average*float64(s.Samples) + price) / float64(s.Samples+1)
		s.Samples++
		if s.Min > 0 {
			s.Volatility = (s.Max - s.Min) / s.Min
		}
		stats[az] = s
	}
	return stats, nil
}

// OnDemandPrice looks up the Linux on-demand price for the instance
// type in the given region, for the savings comparison in the spot
// report.
func (a *SpotPriceAnalyzer) OnDemandPrice(ctx context.Context, instanceType, region string) (float64, error) {
	if a.pricing == nil {
		return 0, &ProviderAPIError{Op: "GetProducts", Err: errors.New("pricing client not configured")}
	}

	filters := []pricingtypes.Filter{
		{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("instanceType"), Value: aws.String(instanceType)},
		{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("regionCode"), Value: aws.String(region)},
		{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("operatingSystem"), Value: aws.String("Linux")},
		{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("preInstalledSw"), Value: aws.String("NA")},
		{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("tenancy"), Value: aws.String("Shared")},
		{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("capacitystatus"), Value: aws.String("Used")},
	}

	var out *pricing.GetProductsOutput
	err := withReadRetry(ctx, "GetProducts", func() error {
		var err error
		out, err = a.pricing.GetProducts(ctx, &pricing.GetProductsInput{
			ServiceCode: aws.String("AmazonEC2"),
			Filters:     filters,
			MaxResults:  aws.Int32(1),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(out.PriceList) == 0 {
		return 0, &NoPricingDataError{InstanceType: instanceType, Region: region}
	}

	price, err := parseOnDemandPrice(out.PriceList[0])
	if err != nil {
		return 0, &ProviderAPIError{Op: "GetProducts", Err: err}
	}
	return price, nil
}

// parseOnDemandPrice digs the USD rate out of one Pricing API product
// document.
func parseOnDemandPrice(doc string) (float64, error) {
	var product struct {
		Terms struct {
			OnDemand map[string]struct {
				PriceDimensions map[string]struct {
					PricePerUnit struct {
						USD string `json:"USD"`
					} `json:"pricePerUnit"`
				} `json:"priceDimensions"`
			} `json:"OnDemand"`
		} `json:"terms"`
	}
	if err := json.Unmarshal([]byte(doc), &product); err != nil {
		return 0, fmt.Errorf("parsing price document: %w", err)
	}
	for _, term := range product.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			price, err := strconv.ParseFloat(dim.PricePerUnit.USD, 64)
			if err != nil || price == 0 {
				continue
			}
			return price, nil
		}
	}
	return 0, errors.New("no USD on-demand rate in price document")
}

func (a *SpotPriceAnalyzer) listAvailabilityZones(ctx context.Context) ([]string, error) {
	var out *ec2.DescribeAvailabilityZonesOutput
	err := withReadRetry(ctx, "DescribeAvailabilityZones", func() error {
		var err error
		out, err = a.ec2.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
		return err
	})
	if err != nil {
		return nil, err
	}

	zones := make([]string, 0, len(out.AvailabilityZones))
	for _, az := range out.AvailabilityZones {
		if az.ZoneName != nil {
			zones = append(zones, *az.ZoneName)
		}
	}
	return zones, nil
}

// latestQuote fetches the most recent spot price point for one zone.
func (a *SpotPriceAnalyzer) latestQuote(ctx context.Context, instanceType, az string) (SpotPriceQuote, bool, error) {
	var out *ec2.DescribeSpotPriceHistoryOutput
	err := withReadRetry(ctx, "DescribeSpotPriceHistory", func() error {
		var err error
		out, err = a.ec2.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
			InstanceTypes:       []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
			AvailabilityZone:    aws.String(az),
			ProductDescriptions: []string{"Linux/UNIX"},
			StartTime:           aws.Time(time.Now()),
			MaxResults:          aws.Int32(1),
		})
		return err
	})
	if err != nil {
		return SpotPriceQuote{}, false, err
	}
	if len(out.SpotPriceHistory) == 0 {
		return SpotPriceQuote{}, false, nil
	}

	point := out.SpotPriceHistory[0]
	if point.SpotPrice == nil {
		return SpotPriceQuote{}, false, nil
	}
	price, err := strconv.ParseFloat(*point.SpotPrice, 64)
	if err != nil {
		return SpotPriceQuote{}, false, nil
	}

	quote := SpotPriceQuote{AvailabilityZone: az, PricePerHour: price}
	if point.Timestamp != nil {
		quote.Timestamp = *point.Timestamp
	}
	return quote, true, nil
}
