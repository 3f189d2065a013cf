// Package config loads broker configuration. It exposes a Default()
// baseline, file loading through viper and an environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/nakadi.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(ctx, runtime.Options{DataDir: config.DefaultDataDir(), Config: cfg})
//	defer rt.Close()
package config
