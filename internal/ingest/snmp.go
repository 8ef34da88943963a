package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/xtxerr/telestream/config"
	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/metrics"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/types"
	"github.com/xtxerr/telestream/internal/validation"
)

var snmpLog = logging.Component("snmp")

// =============================================================================
// SNMP Configuration
// =============================================================================

// OID is one polled object. Its samples go to snmp/<target>/<Name>.
type OID struct {
	Name string `yaml:"name"`
	OID  string `yaml:"oid"`
}

// Target is one SNMP agent and the objects polled from it.
type Target struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`

	// v2c
	Community string `yaml:"community"`

	// v3
	SecurityName  string `yaml:"security_name"`
	SecurityLevel string `yaml:"security_level"`
	AuthProtocol  string `yaml:"auth_protocol"`
	AuthPassword  string `yaml:"auth_password"`
	PrivProtocol  string `yaml:"priv_protocol"`
	PrivPassword  string `yaml:"priv_password"`
	ContextName   string `yaml:"context_name"`

	// Timing
	TimeoutMs uint32 `yaml:"timeout_ms"`
	Retries   uint32 `yaml:"retries"`

	OIDs []OID `yaml:"oids"`
}

// Topic returns the store topic for the named object.
func (t Target) Topic(name string) string {
	return constants.SNMPTopicPrefix + "/" + t.Name + "/" + name
}

// Validate checks the target. v2c targets must name a community. Target
// and object names become topic segments.
func (t Target) Validate() error {
	if t.Name == "" {
		return errors.NewMissingField("snmp.targets.name")
	}
	if err := validation.ValidateSegment(t.Name); err != nil {
		return errors.NewInvalidValue("snmp.targets.name", t.Name, err.Error())
	}
	if t.Host == "" {
		return errors.NewMissingField(fmt.Sprintf("snmp.targets[%s].host", t.Name))
	}
	if len(t.OIDs) == 0 {
		return errors.NewMissingField(fmt.Sprintf("snmp.targets[%s].oids", t.Name))
	}
	for _, o := range t.OIDs {
		if err := validation.ValidateSegment(o.Name); err != nil {
			return errors.NewInvalidValue(fmt.Sprintf("snmp.targets[%s].oids.name", t.Name), o.Name, err.Error())
		}
		if err := validation.ValidateOID(o.OID); err != nil {
			return errors.NewInvalidValue(fmt.Sprintf("snmp.targets[%s].oids.oid", t.Name), o.OID, err.Error())
		}
	}
	if t.SecurityName == "" && t.Community == "" {
		return errors.NewValidation(fmt.Sprintf("snmp.targets[%s].community", t.Name),
			"v2c requires a community string")
	}
	return nil
}

// =============================================================================
// SNMP Producer
// =============================================================================

// getter is the part of *gosnmp.GoSNMP the producer uses.
type getter interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

// Producer polls SNMP targets and adds the results to a store.
type Producer struct {
	store    *store.Store
	metrics  *metrics.Metrics
	targets  []Target
	interval time.Duration

	// dial connects to a target. Replaced in tests.
	dial func(Target) (getter, error)
	now  func() time.Time
}

// NewProducer creates a producer for targets. interval defaults to
// DefaultSNMPInterval when zero. m may be nil.
func NewProducer(st *store.Store, m *metrics.Metrics, targets []Target, interval time.Duration) *Producer {
	if interval <= 0 {
		interval = config.DefaultSNMPInterval
	}
	return &Producer{
		store:    st,
		metrics:  m,
		targets:  targets,
		interval: interval,
		dial:     dialTarget,
		now:      time.Now,
	}
}

// Run polls every target once per interval until ctx is done.
func (p *Producer) Run(ctx context.Context) error {
	snmpLog.Info("snmp producer started", "targets", len(p.targets), "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.PollAll(ctx)

		select {
		case <-ctx.Done():
			snmpLog.Info("snmp producer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollAll polls every target concurrently and returns the number of samples
// added.
func (p *Producer) PollAll(ctx context.Context) int {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for _, t := range p.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			n, err := p.Poll(ctx, t)
			if err != nil {
				snmpLog.Warn("snmp poll failed", "target", t.Name, "host", t.Host, "error", err)
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return total
}

// Poll reads every OID of t and adds the values it could convert. Objects
// the agent does not have, and unsupported types, are logged and skipped.
func (p *Producer) Poll(ctx context.Context, t Target) (int, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	client, err := p.dial(t)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	oids := make([]string, len(t.OIDs))
	byOID := make(map[string]string, len(t.OIDs))
	for i, o := range t.OIDs {
		oids[i] = o.OID
		byOID[normalizeOID(o.OID)] = o.Name
	}

	pdu, err := client.Get(oids)
	if err != nil {
		return 0, fmt.Errorf("get: %w", err)
	}

	ts := uint64(p.now().UnixMilli())
	added := 0
	for _, v := range pdu.Variables {
		name, ok := byOID[normalizeOID(v.Name)]
		if !ok {
			continue
		}
		val, err := pduValue(v)
		if err != nil {
			snmpLog.Debug("snmp value skipped", "target", t.Name, "oid", v.Name, "error", err)
			continue
		}
		p.store.AddSample(t.Topic(name), ts, val)
		added++
	}

	p.metrics.Ingested("snmp", added)
	return added, nil
}

// pduValue maps an SNMP variable to a Value. Counters and gauges become
// Numbers, octet strings become Text.
func pduValue(v gosnmp.SnmpPDU) (types.Value, error) {
	switch v.Type {
	case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Uinteger32, gosnmp.Gauge32:
		return types.Number(float64(gosnmp.ToBigInt(v.Value).Uint64())), nil

	case gosnmp.Integer:
		return types.Number(float64(gosnmp.ToBigInt(v.Value).Int64())), nil

	case gosnmp.TimeTicks:
		return types.Number(float64(gosnmp.ToBigInt(v.Value).Uint64())), nil

	case gosnmp.OctetString:
		b, ok := v.Value.([]byte)
		if !ok {
			return types.Value{}, fmt.Errorf("octet string of type %T", v.Value)
		}
		return types.Text(string(b)), nil

	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
		return types.Value{}, errors.ErrNotFound

	default:
		return types.Value{}, fmt.Errorf("unsupported type: %v", v.Type)
	}
}

func normalizeOID(oid string) string {
	if len(oid) > 0 && oid[0] == '.' {
		return oid[1:]
	}
	return oid
}

// =============================================================================
// SNMP Client Creation
// =============================================================================

func dialTarget(t Target) (getter, error) {
	snmp := newClient(t)
	if err := snmp.Connect(); err != nil {
		return nil, err
	}
	return snmpConn{snmp}, nil
}

type snmpConn struct{ *gosnmp.GoSNMP }

func (c snmpConn) Close() error { return c.Conn.Close() }

func newClient(t Target) *gosnmp.GoSNMP {
	port := t.Port
	if port == 0 {
		port = 161
	}

	timeout := t.TimeoutMs
	if timeout == 0 {
		timeout = config.DefaultSNMPTimeoutMs
	}

	retries := t.Retries
	if retries == 0 {
		retries = config.DefaultSNMPRetries
	}

	snmp := &gosnmp.GoSNMP{
		Target:  t.Host,
		Port:    port,
		Timeout: time.Duration(timeout) * time.Millisecond,
		Retries: int(retries),
		MaxOids: gosnmp.MaxOids,
	}

	if t.SecurityName != "" {
		snmp.Version = gosnmp.Version3
		snmp.SecurityModel = gosnmp.UserSecurityModel
		snmp.MsgFlags = msgFlags(t.SecurityLevel)
		snmp.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 t.SecurityName,
			AuthenticationProtocol:   authProtocol(t.AuthProtocol),
			AuthenticationPassphrase: t.AuthPassword,
			PrivacyProtocol:          privProtocol(t.PrivProtocol),
			PrivacyPassphrase:        t.PrivPassword,
		}
		snmp.ContextName = t.ContextName
	} else {
		snmp.Version = gosnmp.Version2c
		snmp.Community = t.Community
	}

	return snmp
}

func msgFlags(level string) gosnmp.SnmpV3MsgFlags {
	switch level {
	case "authNoPriv":
		return gosnmp.AuthNoPriv
	case "authPriv":
		return gosnmp.AuthPriv
	default:
		return gosnmp.NoAuthNoPriv
	}
}

func authProtocol(protocol string) gosnmp.SnmpV3AuthProtocol {
	switch protocol {
	case "MD5":
		return gosnmp.MD5
	case "SHA":
		return gosnmp.SHA
	case "SHA224":
		return gosnmp.SHA224
	case "SHA256":
		return gosnmp.SHA256
	case "SHA384":
		return gosnmp.SHA384
	case "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.NoAuth
	}
}

func privProtocol(protocol string) gosnmp.SnmpV3PrivProtocol {
	switch protocol {
	case "DES":
		return gosnmp.DES
	case "AES":
		return gosnmp.AES
	case "AES192":
		return gosnmp.AES192
	case "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.NoPriv
	}
}
