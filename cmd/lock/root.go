package lock

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/lockmgr"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"time"
)

var (
	rpcLockMgr lockmgr.ILockManager

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:   "lock",
		Short: "Perform lock operations",
		Long: `Perform lock operations on a dLock server.

Lock names are qualified names "{namespace}local.name". A lock on a.b.c also
holds a and a.b in shared mode, so a.b.d can be locked by someone else while a
and a.b cannot.`,
		PersistentPreRunE: setupLockClient,
	}

	acquireCmd = &cobra.Command{
		Use:   "acquire [qname]",
		Short: "Acquire a lock, or extend a lock held with the same token",
		Long:  "Acquire a lock. Without --token a random token is generated. The token is printed and needed to refresh or release the lock.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	refreshCmd = &cobra.Command{
		Use:   "refresh [qname] [token]",
		Short: "Extend a held lock",
		Args:  cobra.ExactArgs(2),
		RunE:  runRefresh,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [qname] [token]",
		Short: "Release a held lock",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}

	statusCmd = &cobra.Command{
		Use:   "status [qname]",
		Short: "Show the lock rows of a name and its ancestors",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(refreshCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(statusCmd)
	LockCommands.AddCommand(perfCmd)

	util.SetupRPCClientFlags(LockCommands)
	LockCommands.PersistentFlags().Int("shard", 1, util.WrapString("ID of the shard to connect to"))

	acquireCmd.Flags().String("token", "", util.WrapString("Lock token (default: a random UUID)"))
	acquireCmd.Flags().Duration("ttl", 30*time.Second, util.WrapString("Time to live of the lock"))
	acquireCmd.Flags().Bool("wait", false, util.WrapString("Retry until the lock is free or the client timeout passes"))
	refreshCmd.Flags().Duration("ttl", 30*time.Second, util.WrapString("New time to live of the lock"))
	releaseCmd.Flags().Bool("optimistic", false, util.WrapString("Report a lock that is already gone as released=false instead of an error"))
}

// setupLockClient initializes the lock manager client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcLockMgr, err = client.NewRPCLockMgr(util.GetShardID(), *util.GetClientConfig(), t, s)
	return err
}

// commandContext bounds a command by the client timeout
func commandContext() (context.Context, context.CancelFunc) {
	timeout := time.Duration(util.GetClientConfig().TimeoutSecond) * time.Second
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func runAcquire(_ *cobra.Command, args []string) error {
	qname, err := lockmgr.ParseQName(args[0])
	if err != nil {
		return err
	}

	token := viper.GetString("token")
	if token == "" {
		token = uuid.NewString()
	}

	ctx, cancel := commandContext()
	defer cancel()

	ttl := viper.GetDuration("ttl")
	if viper.GetBool("wait") {
		err = lockmgr.AcquireWait(ctx, rpcLockMgr, qname, token, ttl)
	} else {
		err = rpcLockMgr.AcquireLock(ctx, qname, token, ttl)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	fmt.Printf("acquired=true, lock=%s, token=%s, ttl=%s\n", qname.Normalize(), token, ttl)
	return nil
}

func runRefresh(_ *cobra.Command, args []string) error {
	qname, err := lockmgr.ParseQName(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	ttl := viper.GetDuration("ttl")
	if err := rpcLockMgr.RefreshLock(ctx, qname, args[1], ttl); err != nil {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}

	fmt.Printf("refreshed=true, ttl=%s\n", ttl)
	return nil
}

func runRelease(_ *cobra.Command, args []string) error {
	qname, err := lockmgr.ParseQName(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	released, err := rpcLockMgr.ReleaseLock(ctx, qname, args[1], viper.GetBool("optimistic"))
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}

func runStatus(_ *cobra.Command, args []string) error {
	qname, err := lockmgr.ParseQName(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	rows, err := rpcLockMgr.GetLockState(ctx, qname)
	if err != nil {
		return fmt.Errorf("failed to read lock state: %w", err)
	}

	if len(rows) == 0 {
		fmt.Println("no locks")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-10s %-10s %-8s %-38s %s\n", "SHARED", "EXCLUSIVE", "VERSION", "TOKEN", "STATE")
	for _, row := range rows {
		state := "held until " + row.ExpiryTime.Format(time.RFC3339)
		if row.HasExpired(now) {
			state = "expired"
		}
		fmt.Printf("%-10d %-10d %-8d %-38s %s\n", row.SharedResourceID, row.ExclusiveResourceID, row.Version, row.LockToken, state)
	}
	return nil
}
