package scheduler

func intPtr(v int) *int { return &v }

// SeedSchedules is the default job set. Existing rows are never overwritten,
// so operator tuning survives restarts.
var SeedSchedules = []Schedule{
	{JobType: "sync:portfolio", IntervalMinutes: 60, IntervalMarketOpenMinutes: intPtr(30), MarketTiming: TimingAnyTime, Category: "sync", Enabled: true},
	{JobType: "sync:prices", IntervalMinutes: 1440, MarketTiming: TimingAllClosed, Category: "sync", Enabled: true},
	{JobType: "sync:quotes", IntervalMinutes: 60, IntervalMarketOpenMinutes: intPtr(15), MarketTiming: TimingDuringOpen, Category: "sync", Enabled: true},
	{JobType: "sync:metadata", IntervalMinutes: 1440, MarketTiming: TimingAnyTime, Category: "sync", Enabled: true},
	{JobType: "sync:fx", IntervalMinutes: 120, MarketTiming: TimingAnyTime, Category: "sync", Enabled: true},
	{JobType: "sync:trades", IntervalMinutes: 60, MarketTiming: TimingAnyTime, Category: "sync", Enabled: true},
	{JobType: "sync:cashflows", IntervalMinutes: 360, MarketTiming: TimingAnyTime, Category: "sync", Enabled: true},
	{JobType: "sync:dividends", IntervalMinutes: 1440, MarketTiming: TimingAnyTime, Category: "sync", Enabled: true},
	{JobType: "compute:scoring", IntervalMinutes: 360, MarketTiming: TimingAllClosed, Category: "compute", Enabled: true},
	{JobType: "compute:aggregates", IntervalMinutes: 1440, MarketTiming: TimingAllClosed, Category: "compute", Enabled: true},
	{JobType: "check:market-status", IntervalMinutes: 30, MarketTiming: TimingAnyTime, Category: "check", Enabled: true},
	{JobType: "trade:execute", IntervalMinutes: 60, IntervalMarketOpenMinutes: intPtr(30), MarketTiming: TimingDuringOpen, Category: "trade", Enabled: true},
	{JobType: "trade:plan-refresh", IntervalMinutes: 120, MarketTiming: TimingAnyTime, Category: "trade", Enabled: true},
	{JobType: "maintenance:balance-fix", IntervalMinutes: 15, MarketTiming: TimingDuringOpen, Category: "maintenance", Enabled: true},
	{JobType: "maintenance:backup", IntervalMinutes: 1440, MarketTiming: TimingAllClosed, Category: "maintenance", Enabled: true},
	{JobType: "maintenance:cache-purge", IntervalMinutes: 60, MarketTiming: TimingAnyTime, Category: "maintenance", Enabled: true},
}

// SeedAll inserts any missing default schedules
func SeedAll(repo *ScheduleRepository) error {
	for _, s := range SeedSchedules {
		if err := repo.Seed(s); err != nil {
			return err
		}
	}
	return nil
}
