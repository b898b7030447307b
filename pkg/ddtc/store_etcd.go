package ddtc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/coreos/etcd/mvcc/mvccpb"
	"github.com/fagongzi/log"
	"github.com/google/uuid"
)

var (
	defaultRequestTimeout  = time.Second * 10
	defaultSlowRequestTime = time.Second * 10
)

// etcdKeyspacePrefix roots every key the DDTC reads or writes in etcd,
// mirroring the teacher's per-subsystem key prefix convention
// (vendor/.../prophet's "/prophet" namespace, pkg/election's leaderPath).
const etcdKeyspacePrefix = "/ddtc"

// etcdKeyspace implements Keyspace against etcd, grounded on
// pkg/election/store_etcd.go and vendor/.../prophet/store_etcd.go: the same
// slowLogTxn wrapper, the same get/watch-loop idiom, generalized from one
// fragment's leader key to the DDTC's full set of system-keyspace paths.
type etcdKeyspace struct {
	client *clientv3.Client
	region string
	dc     string
}

// NewEtcdKeyspace returns a Keyspace backed by client, rooted under this
// region's namespace.
func NewEtcdKeyspace(client *clientv3.Client, region, dc string) Keyspace {
	return &etcdKeyspace{client: client, region: region, dc: dc}
}

func (s *etcdKeyspace) path(parts ...string) string {
	return fmt.Sprintf("%s/%s/%s", etcdKeyspacePrefix, s.region, strings.Join(parts, "/"))
}

func (s *etcdKeyspace) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := clientv3.NewKV(s.client).Get(ctx, key)
	if err != nil {
		log.Errorf("ddtc: etcd get failed, key=<%s>, errors:\n %+v", key, err)
		return nil, err
	}
	if cost := time.Since(start); cost > defaultSlowRequestTime {
		log.Warnf("ddtc: etcd get too slow, key=<%s>, cost=<%s>", key, cost)
	}
	if resp.Count == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

func (s *etcdKeyspace) put(ctx context.Context, key string, value []byte) error {
	_, err := s.txn().Then(clientv3.OpPut(key, string(value))).Commit()
	return err
}

func (s *etcdKeyspace) txn() clientv3.Txn {
	return newSlowLogTxn(s.client)
}

// slowLogTxn wraps an etcd transaction and logs slow commits, verbatim from
// pkg/election/store_etcd.go.
type slowLogTxn struct {
	clientv3.Txn
	cancel context.CancelFunc
}

func newSlowLogTxn(client *clientv3.Client) clientv3.Txn {
	ctx, cancel := context.WithTimeout(client.Ctx(), defaultRequestTimeout)
	return &slowLogTxn{Txn: client.Txn(ctx), cancel: cancel}
}

func (t *slowLogTxn) If(cs ...clientv3.Cmp) clientv3.Txn {
	return &slowLogTxn{Txn: t.Txn.If(cs...), cancel: t.cancel}
}

func (t *slowLogTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	return &slowLogTxn{Txn: t.Txn.Then(ops...), cancel: t.cancel}
}

func (t *slowLogTxn) Commit() (*clientv3.TxnResponse, error) {
	start := time.Now()
	resp, err := t.Txn.Commit()
	t.cancel()

	if cost := time.Since(start); cost > defaultSlowRequestTime {
		log.Warnf("ddtc: etcd txn too slow, cost=<%s>, errors:\n %+v", cost, err)
	}
	return resp, err
}

// watchStringList watches key for a JSON-encoded []string and pushes the
// decoded value on every change, plus once immediately on start.
func (s *etcdKeyspace) watchStringList(ctx context.Context, key string) (<-chan []string, error) {
	out := make(chan []string, 1)

	initial, err := s.getStringList(ctx, key)
	if err != nil {
		return nil, err
	}
	out <- initial

	watcher := clientv3.NewWatcher(s.client)
	go func() {
		defer watcher.Close()
		rch := watcher.Watch(ctx, key)
		for {
			select {
			case <-ctx.Done():
				close(out)
				return
			case wresp, ok := <-rch:
				if !ok {
					close(out)
					return
				}
				if wresp.Canceled {
					close(out)
					return
				}
				list, err := s.getStringList(ctx, key)
				if err != nil {
					log.Warnf("ddtc: re-read %s after watch event failed with %+v", key, err)
					continue
				}
				out <- list
			}
		}
	}()
	return out, nil
}

func (s *etcdKeyspace) getStringList(ctx context.Context, key string) ([]string, error) {
	data, err := s.get(ctx, key)
	if err != nil || len(data) == 0 {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *etcdKeyspace) WatchExcludedAddresses(ctx context.Context) (<-chan []string, error) {
	return s.watchStringList(ctx, s.path("excluded", "addresses"))
}

func (s *etcdKeyspace) WatchFailedAddresses(ctx context.Context) (<-chan []string, error) {
	return s.watchStringList(ctx, s.path("failed", "addresses"))
}

func (s *etcdKeyspace) WatchExcludedLocalities(ctx context.Context) (<-chan []string, error) {
	return s.watchStringList(ctx, s.path("excluded", "localities"))
}

func (s *etcdKeyspace) WatchFailedLocalities(ctx context.Context) (<-chan []string, error) {
	return s.watchStringList(ctx, s.path("failed", "localities"))
}

func (s *etcdKeyspace) WatchHealthyZone(ctx context.Context) (<-chan HealthyZoneUpdate, error) {
	key := s.path("healthy-zone")
	out := make(chan HealthyZoneUpdate, 1)

	emit := func() {
		data, err := s.get(ctx, key)
		if err != nil || len(data) == 0 {
			out <- HealthyZoneUpdate{}
			return
		}
		var u HealthyZoneUpdate
		if err := json.Unmarshal(data, &u); err == nil {
			out <- u
		}
	}
	emit()

	watcher := clientv3.NewWatcher(s.client)
	go func() {
		defer watcher.Close()
		rch := watcher.Watch(ctx, key)
		for {
			select {
			case <-ctx.Done():
				close(out)
				return
			case wresp, ok := <-rch:
				if !ok || wresp.Canceled {
					close(out)
					return
				}
				emit()
			}
		}
	}()
	return out, nil
}

func (s *etcdKeyspace) PerpetualWiggleEnabled(ctx context.Context) (bool, error) {
	data, err := s.get(ctx, s.path("wiggle", "enabled"))
	if err != nil {
		return false, err
	}
	return string(data) == "1", nil
}

func (s *etcdKeyspace) CurrentWigglingPID(ctx context.Context) (string, error) {
	data, err := s.get(ctx, s.path("wiggle", "pid"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *etcdKeyspace) AdvanceWigglingPID(ctx context.Context, next string) error {
	return s.put(ctx, s.path("wiggle", "pid"), []byte(next))
}

func (s *etcdKeyspace) DataDistributionEnabled(ctx context.Context) (bool, bool, error) {
	enabledData, err := s.get(ctx, s.path("dd-enabled"))
	if err != nil {
		return false, false, err
	}
	lockData, err := s.get(ctx, s.path("move-keys-lock"))
	if err != nil {
		return false, false, err
	}
	return string(enabledData) != "0", len(lockData) > 0, nil
}

func (s *etcdKeyspace) WatchDebugSnapshotTrigger(ctx context.Context) (<-chan struct{}, error) {
	key := s.path("debug-snapshot-trigger")
	out := make(chan struct{}, 1)

	watcher := clientv3.NewWatcher(s.client)
	go func() {
		defer watcher.Close()
		rch := watcher.Watch(ctx, key)
		for {
			select {
			case <-ctx.Done():
				close(out)
				return
			case wresp, ok := <-rch:
				if !ok || wresp.Canceled {
					close(out)
					return
				}
				for _, ev := range wresp.Events {
					if ev.Type == mvccpb.PUT {
						select {
						case out <- struct{}{}:
						default:
						}
					}
				}
			}
		}
	}()
	return out, nil
}

func (s *etcdKeyspace) RemoveServerFromKeyspace(ctx context.Context, id ServerID) error {
	_, err := s.txn().Then(clientv3.OpDelete(s.path("servers", id.String()))).Commit()
	return err
}

func (s *etcdKeyspace) LoadServerList(ctx context.Context) (map[ServerID]ServerListEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	resp, err := clientv3.NewKV(s.client).Get(ctx, s.path("servers")+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	out := make(map[ServerID]ServerListEntry, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var raw struct {
			ID           string   `json:"id"`
			Address      string   `json:"address"`
			ProcessClass int      `json:"process_class"`
			Locality     Locality `json:"locality"`
			AddedVersion uint64   `json:"added_version"`
		}
		if err := json.Unmarshal(kv.Value, &raw); err != nil {
			log.Warnf("ddtc: decode server list entry %s failed with %+v", kv.Key, err)
			continue
		}
		id, err := parseServerID(raw.ID)
		if err != nil {
			continue
		}
		out[id] = ServerListEntry{
			Interface:    Interface{Address: raw.Address},
			ProcessClass: ProcessClass(raw.ProcessClass),
			Locality:     raw.Locality,
			AddedVersion: raw.AddedVersion,
		}
	}
	return out, nil
}

func (s *etcdKeyspace) LoadKeyServerRange(ctx context.Context, after []byte) ([]KeyServerRange, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	opts := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithLimit(keyServerRangePageSize)}
	key := s.path("key-servers") + "/"
	if len(after) > 0 {
		key = string(after)
		opts = append(opts, clientv3.WithFromKey())
	}

	resp, err := clientv3.NewKV(s.client).Get(ctx, key, opts...)
	if err != nil {
		return nil, false, err
	}

	var out []KeyServerRange
	for _, kv := range resp.Kvs {
		var raw struct {
			Begin  []byte   `json:"begin"`
			End    []byte   `json:"end"`
			Source []string `json:"source"`
			Dest   []string `json:"dest"`
		}
		if err := json.Unmarshal(kv.Value, &raw); err != nil {
			continue
		}
		out = append(out, KeyServerRange{
			Begin:  raw.Begin,
			End:    raw.End,
			Source: parseServerIDs(raw.Source),
			Dest:   parseServerIDs(raw.Dest),
		})
	}
	return out, resp.More, nil
}

const keyServerRangePageSize = 1000

func (s *etcdKeyspace) DatacenterReplicas(ctx context.Context, dc string) (int, error) {
	data, err := s.get(ctx, s.path("dc-replicas", dc))
	if err != nil || len(data) == 0 {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func (s *etcdKeyspace) SetDatacenterReplicas(ctx context.Context, dc string, target int) error {
	return s.put(ctx, s.path("dc-replicas", dc), []byte(strconv.Itoa(target)))
}

func parseServerID(s string) (ServerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ServerID{}, err
	}
	return ServerID(u), nil
}

func parseServerIDs(ss []string) []ServerID {
	out := make([]ServerID, 0, len(ss))
	for _, s := range ss {
		if id, err := parseServerID(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}
