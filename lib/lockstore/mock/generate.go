package mock_lockstore

//go:generate -command mockgen go run go.uber.org/mock/mockgen -destination=./mocks.go github.com/ValentinKolb/dLock/lib/lockstore
//go:generate mockgen IStore,ITransactor
