package main

import (
	"fmt"

	"github.com/kilianp07/shiprelay/core/model"
)

// FleetConfig holds parameters for bulk actor generation.
type FleetConfig struct {
	Drivers     int
	Companies   int
	TokenPrefix string
}

// GenerateActors creates drivers with ids 1..Drivers followed by companies
// numbered after them. Each actor authenticates with TokenPrefix+id.
func GenerateActors(cfg FleetConfig, strat ResponseStrategy) []*SimulatedActor {
	total := cfg.Drivers + cfg.Companies
	if total <= 0 {
		return nil
	}
	out := make([]*SimulatedActor, 0, total)
	for i := 1; i <= total; i++ {
		kind := model.KindDriver
		if i > cfg.Drivers {
			kind = model.KindCompany
		}
		id := model.ActorID(fmt.Sprintf("%d", i))
		out = append(out, NewSimulatedActor(id, kind, cfg.TokenPrefix+string(id), strat))
	}
	return out
}
