package main

import (
	"errors"
	"fmt"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker      string
	TopicPrefix string
	Drivers     int
	Companies   int
	TokenPrefix string
	Strategy    string
	Delay       time.Duration
	DropRate    float64
	AcceptRate  float64
	BackendAddr string
	Verbose     bool
}

// Validate checks the flag combination.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.Drivers < 0 || c.Companies < 0 || c.Drivers+c.Companies == 0 {
		return errors.New("at least one driver or company is required")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("drop-rate %v out of [0,1]", c.DropRate)
	}
	if c.AcceptRate < 0 || c.AcceptRate > 1 {
		return fmt.Errorf("accept-rate %v out of [0,1]", c.AcceptRate)
	}
	if _, err := newStrategy(*c); err != nil {
		return err
	}
	return nil
}
