// Package redisclient provides configuration options and utilities for building redis clients.
// It includes functional options for configuring redis.Options and helper functions
// to apply these configurations in a flexible and composable manner.
package redisclient

import (
	"github.com/hyp3rd/ewrap"
	"github.com/redis/go-redis/v9"
)

// Option is a function type that can be used to configure the redis client.
type Option func(*redis.Options) error

// ApplyOptions applies the given options to the given redis.Options.
func ApplyOptions(opt *redis.Options, options ...Option) error {
	for _, option := range options {
		err := option(opt)
		if err != nil {
			return err
		}
	}

	return nil
}

// WithAddr sets the `Addr` field of the `redis.Options` struct.
func WithAddr(addr string) Option {
	return func(opt *redis.Options) error {
		opt.Addr = addr

		return nil
	}
}

// WithUsername sets the `Username` field of the `redis.Options` struct.
func WithUsername(username string) Option {
	return func(opt *redis.Options) error {
		opt.Username = username

		return nil
	}
}

// WithPassword sets the `Password` field of the `redis.Options` struct.
func WithPassword(password string) Option {
	return func(opt *redis.Options) error {
		opt.Password = password

		return nil
	}
}

// WithDB sets the `DB` field of the `redis.Options` struct.
func WithDB(db int) Option {
	return func(opt *redis.Options) error {
		opt.DB = db

		return nil
	}
}

// WithURL parses a redis connection URL and copies the address, credentials
// and database selection onto the options.
func WithURL(rawURL string) Option {
	return func(opt *redis.Options) error {
		parsed, err := redis.ParseURL(rawURL)
		if err != nil {
			return ewrap.Wrap(err, "parsing redis url")
		}

		opt.Addr = parsed.Addr
		opt.Username = parsed.Username
		opt.Password = parsed.Password
		opt.DB = parsed.DB
		opt.TLSConfig = parsed.TLSConfig

		return nil
	}
}
