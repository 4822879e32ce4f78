// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/config"
	"github.com/sdv-zonal/canbridge/lib/gateway"
	"github.com/sdv-zonal/canbridge/lib/relay"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

// defaultSubscription is used when the configuration names none: one
// controller receiving every identifier.
const defaultSubscription = "all"

type subscription struct {
	name string
	ids  []uint32
}

// parseSubscriptions resolves the configured subscriptions. Empty
// yields the single default subscription.
func parseSubscriptions(configured []config.SubscriptionConfig) ([]subscription, error) {
	if len(configured) == 0 {
		return []subscription{{name: defaultSubscription}}, nil
	}
	subscriptions := make([]subscription, 0, len(configured))
	for _, entry := range configured {
		ids := make([]uint32, 0, len(entry.IDs))
		for _, text := range entry.IDs {
			id, err := canframe.ParseID(text)
			if err != nil {
				return nil, fmt.Errorf("subscription %s: %w", entry.Name, err)
			}
			ids = append(ids, id)
		}
		subscriptions = append(subscriptions, subscription{name: entry.Name, ids: ids})
	}
	return subscriptions, nil
}

// relaySource subscribes to the relay publisher at address for ids.
func relaySource(address, name string, ids []uint32) gateway.Source {
	return gateway.SourceFunc(func(ctx context.Context) (gateway.Subscription, error) {
		subscriber, err := relay.Dial(ctx, address, relay.SubscribeRequest{
			Client: "can-gateway/" + name,
			IDs:    ids,
		})
		if err != nil {
			return nil, err
		}
		return subscriber, nil
	})
}

// controllerDependencies are shared by every controller of a gateway.
type controllerDependencies struct {
	database *signaldb.Database
	mapping  *vss.Table
	store    gateway.Persister
	clock    clock.Clock
	logger   *slog.Logger
}

// buildControllers creates one controller per subscription. source
// returns the frame source for a subscription.
func buildControllers(cfg config.GatewayConfig, dependencies controllerDependencies, source func(subscription) gateway.Source) ([]*gateway.Controller, error) {
	subscriptions, err := parseSubscriptions(cfg.Subscriptions)
	if err != nil {
		return nil, err
	}
	controllers := make([]*gateway.Controller, 0, len(subscriptions))
	for _, entry := range subscriptions {
		controller, err := gateway.New(gateway.Config{
			Name:               entry.name,
			Source:             source(entry),
			Database:           dependencies.database,
			Store:              dependencies.store,
			Mapping:            dependencies.mapping,
			InitialBackoff:     cfg.InitialBackoff,
			MaxBackoff:         cfg.MaxBackoff,
			MaxPersistFailures: cfg.MaxPersistFailures,
			Clock:              dependencies.clock,
			Logger:             dependencies.logger,
		})
		if err != nil {
			return nil, err
		}
		controllers = append(controllers, controller)
	}
	return controllers, nil
}
