//go:build integration

// Package containers starts throwaway MySQL and Mosquitto instances with
// testcontainers-go for integration tests. Everything here is behind the
// integration build tag:
//
//	go test -tags integration ./...
//
// Typical use from a package's TestMain:
//
//	c, err := containers.NewMySQLContainer(ctx, nil)
//	if err != nil {
//		panic(err)
//	}
//	defer func() { _ = c.Terminate(ctx) }()
//	mgr, err := v2.NewMySQLManager(v2.Config{MySQL: c.Settings()})
package containers
